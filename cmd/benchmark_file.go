package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/defenseunicorns/perfkit-hub/internal/log"
	"github.com/defenseunicorns/perfkit-hub/pkg/bench"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

func newBenchmarkFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "benchmark-file <in> <out>",
		Short: "Validate a benchmark configuration file and rewrite deprecated disk types",
		Long: `Benchmark-file reads a benchmark configuration file holding one benchmark, checks its
vm groups, replaces deprecated disk type names and writes the result to out.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return fmt.Errorf("%w: log-level: %w", errFlagRetrieval, err)
			}
			logger, err := log.New(level)
			if err != nil {
				return err
			}
			return normalizeBenchmarkFile(args[0], args[1], logger)
		},
	}
}

func normalizeBenchmarkFile(in, out string, logger types.Logger) error {
	file, err := bench.ReadBenchmarkFile(in)
	if err != nil {
		return err
	}
	return file.Write(out, logger)
}
