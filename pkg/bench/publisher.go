package bench

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/pkg/semver"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// LoadConfig configures the bulk load into the results table.
type LoadConfig struct {
	// Command is the argv prefix of the loader, normally just "bq".
	Command      []string
	SourceFormat string
	Table        string
	SchemaPath   string
	// MinVersion is a semver constraint the loader's version must satisfy. Empty skips the check.
	MinVersion string
	Timeout    time.Duration
}

// DefaultLoadConfig returns the load into the perfkit_mart results table.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{
		Command:      []string{"bq"},
		SourceFormat: "NEWLINE_DELIMITED_JSON",
		Table:        "perfkit_mart.express_cnn_hangzhou_us_opt",
		SchemaPath:   "/root/results_table_schema.json",
		Timeout:      DefaultTimeout,
	}
}

// BigQueryPublisher bulk loads the results file into a BigQuery table with the bq CLI.
type BigQueryPublisher struct {
	executor types.CommandExecutor
	logger   types.Logger
	cfg      LoadConfig
}

// NewBigQueryPublisher creates a BigQueryPublisher.
func NewBigQueryPublisher(cfg LoadConfig, executor types.CommandExecutor, logger types.Logger) (*BigQueryPublisher, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("load command cannot be empty")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("load table cannot be empty")
	}
	return &BigQueryPublisher{cfg: cfg, executor: executor, logger: logger}, nil
}

// Args returns the load command for the results file at path.
func (p *BigQueryPublisher) Args(path string) []string {
	args := append([]string{}, p.cfg.Command...)
	args = append(args, "load", "--source_format="+p.cfg.SourceFormat, p.cfg.Table, path)
	if p.cfg.SchemaPath != "" {
		args = append(args, p.cfg.SchemaPath)
	}
	return args
}

// Publish runs the load. Its result is logged, not interpreted: an error is returned only when
// the loader could not be started.
func (p *BigQueryPublisher) Publish(ctx context.Context, outcome *Outcome) error {
	if outcome == nil || outcome.Artifact == nil {
		return nil
	}
	result, err := p.executor.Execute(ctx, types.CommandSpec{
		Args:         p.Args(outcome.Artifact.Path),
		Timeout:      p.cfg.Timeout,
		ForceInfoLog: true,
	})
	if err != nil {
		return fmt.Errorf("failed to run bulk load: %w", err)
	}
	p.logger.Info("Bulk load finished",
		zap.String("run_id", outcome.RunID),
		zap.String("table", p.cfg.Table),
		zap.String("path", outcome.Artifact.Path),
		zap.Int("exit_status", result.ExitStatus))
	return nil
}

// CheckVersion runs "<command> version" and checks the reported version against MinVersion.
func (p *BigQueryPublisher) CheckVersion(ctx context.Context) error {
	if p.cfg.MinVersion == "" {
		return nil
	}
	args := append(append([]string{}, p.cfg.Command...), "version")
	result, err := p.executor.Execute(ctx, types.CommandSpec{Args: args, Timeout: time.Minute})
	if err != nil {
		return fmt.Errorf("failed to run %v: %w", args, err)
	}
	if result.ExitStatus != 0 {
		return fmt.Errorf("%v exited with status %d: %s", args, result.ExitStatus, result.Stderr)
	}
	version, err := semver.CheckVersion(result.Stdout, p.cfg.MinVersion)
	if err != nil {
		return fmt.Errorf("unsupported loader: %w", err)
	}
	p.logger.Info("Loader version", zap.String("version", version))
	return nil
}

// RunStore persists runs with their samples.
type RunStore interface {
	InsertRunSamples(ctx context.Context, run *external.RunDTO) error
}

// StorePublisher reads the results file and stores its samples as one run.
type StorePublisher struct {
	store  RunStore
	logger types.Logger
}

// NewStorePublisher creates a StorePublisher.
func NewStorePublisher(store RunStore, logger types.Logger) (*StorePublisher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &StorePublisher{store: store, logger: logger}, nil
}

// Publish reads the newline-delimited JSON samples of outcome's artifact and stores them.
func (p *StorePublisher) Publish(ctx context.Context, outcome *Outcome) error {
	if outcome == nil || outcome.Artifact == nil {
		return nil
	}
	f, err := os.Open(outcome.Artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	samples, err := external.ReadSamples(f)
	if err != nil {
		return fmt.Errorf("failed to read results file %s: %w", outcome.Artifact.Path, err)
	}
	run := &external.RunDTO{
		RunID:        outcome.RunID,
		Benchmark:    outcome.Benchmark,
		State:        string(outcome.State),
		ArtifactPath: outcome.Artifact.Path,
		Attempts:     outcome.Attempts,
		Samples:      external.MapSamplesToDTO(samples),
		CreatedAt:    time.Now().UTC(),
	}
	if outcome.Result != nil {
		run.ExitStatus = outcome.Result.ExitStatus
	}
	if err := p.store.InsertRunSamples(ctx, run); err != nil {
		return fmt.Errorf("failed to store run %s: %w", outcome.RunID, err)
	}
	p.logger.Info("Stored samples",
		zap.String("run_id", outcome.RunID),
		zap.Int("samples", len(samples)))
	return nil
}
