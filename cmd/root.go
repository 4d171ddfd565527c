package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/defenseunicorns/perfkit-hub/internal/config"
	"github.com/defenseunicorns/perfkit-hub/internal/log"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
	"github.com/defenseunicorns/perfkit-hub/pkg/version"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// Execute is the main entry point for perfkit-hub.
func Execute(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := newRootCmd()
	rootCmd.Version = version.JSON()
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args) // Set the arguments
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "perfkit-hub",
		Short: "perfkit-hub runs network benchmarks and publishes their samples.",
		Long: `perfkit-hub invokes the benchmarking tool, retries it on transport failures,
and publishes the samples it produced to BigQuery and an optional database.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", `Path to the config file.
Defaults to perfkit-hub.yaml in the working directory, ~/.perfkit-hub or /etc/perfkit-hub`)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level. options: debug|info|warn|error")

	rootCmd.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newPingCmd(),
		newBenchmarkFileCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads the configuration and returns a context carrying a logger at the configured level.
func setup(cmd *cobra.Command) (context.Context, *config.Config, types.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: config: %w", errFlagRetrieval, err)
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	logger, err := log.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating logger: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return log.WithLogger(ctx, logger), cfg, logger, nil
}
