package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/defenseunicorns/perfkit-hub/internal/executor"
	"github.com/defenseunicorns/perfkit-hub/pkg/bench"
)

func newPingCmd() *cobra.Command {
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure latency between every pair of the configured VMs",
		Long: `Ping runs ping from every configured VM to every VM after it, over ssh when the VM
has an ssh user, and writes the samples as newline-delimited JSON into the results directory.
Its stderr ends the way the benchmarking tool's does, so it can be the command of run and
schedule.`,
		Args: cobra.NoArgs,
		RunE: runPing,
	}
	pingCmd.Flags().Bool("external-ip", false, "Ping the external addresses of the VMs")
	pingCmd.Flags().String("results-dir", os.TempDir(), "Directory the results are written to")
	return pingCmd
}

func runPing(cmd *cobra.Command, _ []string) error {
	ctx, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Ping.VMs) < 2 {
		return fmt.Errorf("ping needs at least two vms, got %d", len(cfg.Ping.VMs))
	}
	benchmark, err := bench.NewPingBenchmark(cfg.PingConfig(), executor.NewCommandExecutor(ctx), logger)
	if err != nil {
		return fmt.Errorf("error creating ping benchmark: %w", err)
	}
	report, err := benchmark.Run(ctx, cfg.Ping.VMs)
	if err != nil {
		return fmt.Errorf("ping benchmark failed: %w", err)
	}

	last := "No samples were published"
	if len(report.Samples) > 0 {
		artifact, err := benchmark.Publish(report)
		if err != nil {
			return fmt.Errorf("error publishing samples: %w", err)
		}
		last = "Results can be found at: " + artifact.Path
	}
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Success rate: %.2f%% (%d/%d)\n",
		report.SuccessRate(), report.Pairs-len(report.Errors), report.Pairs)
	fmt.Fprintln(stderr, last)

	if len(report.Errors) > 0 {
		return fmt.Errorf("%d of %d pairs failed: %w", len(report.Errors), report.Pairs, errors.Join(report.Errors...))
	}
	return nil
}
