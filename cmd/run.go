package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/defenseunicorns/perfkit-hub/internal/config"
	"github.com/defenseunicorns/perfkit-hub/internal/data/db"
	"github.com/defenseunicorns/perfkit-hub/internal/executor"
	"github.com/defenseunicorns/perfkit-hub/internal/metrics"
	"github.com/defenseunicorns/perfkit-hub/internal/sql"
	"github.com/defenseunicorns/perfkit-hub/pkg/bench"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark once and publish its results",
		Long: `Run invokes the benchmarking tool, retrying while it exits with the transport failure
status, and hands the results file it published to the enabled publishers.
A summary of the invocation is written to stdout as JSON.`,
		Args: cobra.NoArgs,
		RunE: runBenchmark,
	}
	addInvokerFlags(runCmd.Flags())
	return runCmd
}

// addInvokerFlags adds the flags shared by the commands that invoke the benchmark.
func addInvokerFlags(flags *pflag.FlagSet) {
	flags.Int("retries", bench.DefaultRetries, "Number of attempts while the benchmark reports a transport failure")
	flags.Duration("timeout", bench.DefaultTimeout, "Timeout of one benchmark attempt, 0 disables it")
	flags.Bool("load", true, "Bulk load the results file into BigQuery")
	flags.Bool("store", false, "Store the samples in the database")
	flags.String("db-type", sql.TypeSQLite, "Database type. options: sqlite|postgres|cloudsql")
	flags.String("db-path", "perfkit-hub.db", "Path to the sqlite database")
}

// runBenchmark runs one invocation of the benchmark.
func runBenchmark(cmd *cobra.Command, _ []string) error {
	ctx, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	c, err := newComponents(ctx, cfg, logger, executor.NewCommandExecutor(ctx), nil)
	if err != nil {
		return err
	}
	defer c.Close()

	outcome, err := c.invoker.Run(ctx)
	if outcome != nil {
		if werr := writeOutcome(cmd.OutOrStdout(), outcome); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	if err != nil {
		return fmt.Errorf("benchmark run failed: %w", err)
	}
	return nil
}

// components is the invoker with the publishers the configuration enables.
type components struct {
	invoker *bench.Invoker
	logger  types.Logger
	// runs is nil unless the store is enabled.
	runs    db.RunManager
	closer  func() error
}

// newComponents wires the invoker. The load publisher checks the loader's version before it is
// added; the store publisher migrates the database. collector may be nil.
func newComponents(
	ctx context.Context,
	cfg *config.Config,
	logger types.Logger,
	cmdExecutor types.CommandExecutor,
	collector metrics.Collector,
) (*components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	c := &components{logger: logger, closer: func() error { return nil }}
	var publishers []bench.Publisher

	if cfg.Load.Enabled {
		loader, err := bench.NewBigQueryPublisher(cfg.LoadConfig(), cmdExecutor, logger)
		if err != nil {
			return nil, fmt.Errorf("error creating load publisher: %w", err)
		}
		if err := loader.CheckVersion(ctx); err != nil {
			return nil, err
		}
		publishers = append(publishers, loader)
	}

	if cfg.Store.Enabled {
		gormDB, err := openStore(ctx, cfg.Store.DB)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("error getting database handle: %w", err)
		}
		c.closer = sqlDB.Close
		manager, err := db.NewGormRunManager(gormDB)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("error initializing GormRunManager: %w", err)
		}
		store, err := bench.NewStorePublisher(manager, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("error creating store publisher: %w", err)
		}
		c.runs = manager
		publishers = append(publishers, store)
	}

	opts := []bench.InvokerOption{bench.WithPublishers(publishers...)}
	if collector != nil {
		opts = append(opts, bench.WithCollector(collector))
	}
	invoker, err := bench.NewInvoker(cfg.InvokerConfig(), cmdExecutor, logger, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("error creating invoker: %w", err)
	}
	c.invoker = invoker
	return c, nil
}

// Close releases the database connection, if any.
func (c *components) Close() {
	if err := c.closer(); err != nil {
		c.logger.Warn("Failed to close database", zap.Error(err))
	}
}

// prune deletes the stored runs older than retention. It does nothing without a store or with
// a zero retention.
func (c *components) prune(ctx context.Context, retention time.Duration) error {
	if c.runs == nil || retention <= 0 {
		return nil
	}
	deleted, err := c.runs.DeleteRunsBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	if deleted > 0 {
		c.logger.Info("Pruned runs", zap.Int64("runs", deleted), zap.Duration("retention", retention))
	}
	return nil
}

// openStore connects to the configured database and migrates the run tables.
func openStore(ctx context.Context, cfg sql.DBConfig) (*gorm.DB, error) {
	connector, err := sql.CreateDBConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating database connector: %w", err)
	}
	gormDB, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// outcomeSummary is the JSON summary of one invocation.
type outcomeSummary struct {
	RunID      string `json:"run_id"`
	Benchmark  string `json:"benchmark"`
	State      string `json:"state"`
	Artifact   string `json:"artifact,omitempty"`
	Samples    int    `json:"samples,omitempty"`
	Attempts   int    `json:"attempts"`
	ExitStatus int    `json:"exit_status"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

func summarize(outcome *bench.Outcome) outcomeSummary {
	s := outcomeSummary{
		RunID:     outcome.RunID,
		Benchmark: outcome.Benchmark,
		State:     string(outcome.State),
		Attempts:  outcome.Attempts,
	}
	if outcome.Artifact != nil {
		s.Artifact = outcome.Artifact.Path
		s.Samples = outcome.Artifact.SampleCount
	}
	if outcome.Result != nil {
		s.ExitStatus = outcome.Result.ExitStatus
		s.TimedOut = outcome.Result.TimedOut
	}
	return s
}

func writeOutcome(w io.Writer, outcome *bench.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summarize(outcome)); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
