package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/defenseunicorns/perfkit-hub/internal/executor"
	"github.com/defenseunicorns/perfkit-hub/internal/metrics"
	"github.com/defenseunicorns/perfkit-hub/internal/pprof"
	"github.com/defenseunicorns/perfkit-hub/internal/schedule"
)

const metricsNamespace = "perfkit_hub"

func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the benchmark on fixed daily slots",
		Long: `Schedule runs the benchmark at every slot of the day, counted from midnight plus the
configured offset, until interrupted. Runs never overlap: slots missed while a run is still
going are skipped. Prometheus metrics are served on the metrics address.`,
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}
	addInvokerFlags(scheduleCmd.Flags())
	scheduleCmd.Flags().Duration("interval", 5*time.Minute, "Spacing of the daily slots")
	scheduleCmd.Flags().String("metrics-addr", ":9090", "Address of the metrics endpoint, empty disables it")
	scheduleCmd.Flags().String("pprof-addr", "", "Address of the pprof server, empty disables it")
	return scheduleCmd
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx = metrics.WithMetrics(ctx, metricsNamespace)
	collector := metrics.FromContext(ctx, metricsNamespace)
	c, err := newComponents(ctx, cfg, logger, executor.NewCommandExecutor(ctx), collector)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler, err := schedule.New(cfg.Schedule.Interval, cfg.Schedule.Offset, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(ctx, scheduledRun(c, cfg.Store.Retention))
	})
	if addr := cfg.Server.MetricsAddr; addr != "" {
		g.Go(func() error {
			return pprof.Serve(ctx, "metrics", addr, collector.MetricsHandler())
		})
	}
	if addr := cfg.Server.PprofAddr; addr != "" {
		g.Go(func() error {
			return pprof.StartPprofServer(ctx, addr)
		})
	}
	return g.Wait()
}

// scheduledRun is the job of one slot: an invocation followed by pruning the store.
// It is timed on the collector carried by the job context.
func scheduledRun(c *components, retention time.Duration) schedule.Job {
	return func(ctx context.Context) error {
		done, err := metrics.FromContext(ctx, metricsNamespace).MeasureFunctionExecutionTime("scheduled_run")
		if err != nil {
			return err
		}
		defer done()
		if _, err := c.invoker.Run(ctx); err != nil {
			return err
		}
		return c.prune(ctx, retention)
	}
}
