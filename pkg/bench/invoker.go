package bench

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/internal/metrics"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// State is the terminal state of an invocation.
type State string

const (
	// StateSuccess means the last attempt exited with status 0.
	StateSuccess State = "success"
	// StateOtherFailure means the last attempt failed with a status that is not retried.
	StateOtherFailure State = "other_failure"
	// StateExhausted means every attempt ended with the transport failure status.
	StateExhausted State = "exhausted"
	// StateInvalid is recorded in metrics when a ValidationError aborted the invocation.
	StateInvalid State = "invalid"
)

const (
	metricAttempts    = "attempts_total"
	metricInvocations = "invocations_total"
	metricDuration    = "command_duration_seconds"
	metricExitStatus  = "last_exit_status"
	metricSuccessRate = "last_success_rate"
)

// ValidationError is returned when an attempt that ended with the transport failure status
// did not report the required success rate. It aborts the invocation.
type ValidationError struct {
	// Err is set when the success rate could not be read at all.
	Err         error
	Attempt     int
	SuccessRate float64
	Required    float64
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attempt %d: cannot validate success rate: %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("attempt %d: success rate %v%% does not match the required %v%%", e.Attempt, e.SuccessRate, e.Required)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Outcome is the accepted result of an invocation.
type Outcome struct {
	// Result is the ExecutionResult of the last attempt.
	Result *types.ExecutionResult
	// Artifact is the results file the last attempt published, nil when it published none.
	Artifact  *types.Artifact
	RunID     string
	Benchmark string
	State     State
	Attempts  int
}

// Publisher consumes the artifact of an invocation.
type Publisher interface {
	Publish(ctx context.Context, outcome *Outcome) error
}

// Invoker runs the benchmarking tool through a CommandExecutor and retries transport failures.
type Invoker struct {
	executor   types.CommandExecutor
	logger     types.Logger
	metrics    metrics.Collector
	publishers []Publisher
	cfg        Config
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithPublishers adds publishers that receive the artifact after every invocation.
func WithPublishers(publishers ...Publisher) InvokerOption {
	return func(i *Invoker) {
		i.publishers = append(i.publishers, publishers...)
	}
}

// WithCollector records attempts, invocations and durations in collector.
func WithCollector(collector metrics.Collector) InvokerOption {
	return func(i *Invoker) {
		i.metrics = collector
	}
}

// NewInvoker creates an Invoker.
// Parameters:
// - cfg: the invoker configuration, validated here.
// - executor: the executor that launches the benchmarking tool.
// - logger: the logger to use for logging.
// Returns:
// - *Invoker: the invoker.
// - error: an error if an argument is missing or the configuration is invalid.
func NewInvoker(cfg Config, executor types.CommandExecutor, logger types.Logger, opts ...InvokerOption) (*Invoker, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoker config: %w", err)
	}
	i := &Invoker{cfg: cfg, executor: executor, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	if i.metrics != nil {
		if err := i.registerMetrics(); err != nil {
			return nil, err
		}
	}
	return i, nil
}

func (i *Invoker) registerMetrics() error {
	if _, err := i.metrics.RegisterCounter(metricAttempts, "benchmark", "exit_status"); err != nil {
		return fmt.Errorf("failed to register attempts counter: %w", err)
	}
	if _, err := i.metrics.RegisterCounter(metricInvocations, "benchmark", "state"); err != nil {
		return fmt.Errorf("failed to register invocations counter: %w", err)
	}
	if _, err := i.metrics.RegisterHistogram(metricDuration, "benchmark"); err != nil {
		return fmt.Errorf("failed to register duration histogram: %w", err)
	}
	if _, err := i.metrics.RegisterGauge(metricExitStatus, "benchmark"); err != nil {
		return fmt.Errorf("failed to register exit status gauge: %w", err)
	}
	if _, err := i.metrics.RegisterGauge(metricSuccessRate, "benchmark"); err != nil {
		return fmt.Errorf("failed to register success rate gauge: %w", err)
	}
	return nil
}

// Run invokes the benchmark until an attempt ends with a status other than the transport
// failure status or the retry budget is spent, then hands the published artifact, if any, to
// the publishers.
//
// A *ValidationError aborts the invocation immediately and no outcome is returned. Publisher
// failures are joined into the returned error alongside a non-nil outcome.
func (i *Invoker) Run(ctx context.Context) (*Outcome, error) {
	outcome := &Outcome{RunID: uuid.NewString(), Benchmark: i.cfg.Benchmark}
	spec := types.CommandSpec{
		Args:    i.cfg.Command,
		Env:     i.cfg.Env,
		Timeout: i.cfg.Timeout,
	}

	for attempt := 1; attempt <= i.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("invocation %s interrupted before attempt %d: %w", outcome.RunID, attempt, err)
		}
		result, err := i.executor.Execute(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", i.cfg.Benchmark, err)
		}
		outcome.Result = result
		outcome.Attempts = attempt
		i.observeAttempt(result)

		if result.ExitStatus != i.cfg.TransportFailureStatus {
			break
		}
		if err := i.validate(attempt, result); err != nil {
			i.countInvocation(StateInvalid)
			return nil, err
		}
		i.logger.Warn("Transport failure, retrying",
			zap.String("run_id", outcome.RunID),
			zap.Int("attempt", attempt),
			zap.Int("retries", i.cfg.Retries))
	}
	outcome.State = i.terminalState(outcome.Result)
	i.countInvocation(outcome.State)

	if artifact, ok := external.ParsePublishedArtifact(outcome.Result.Stderr); ok {
		outcome.Artifact = &artifact
	}
	i.logger.Info("Benchmark finished",
		zap.String("run_id", outcome.RunID),
		zap.String("benchmark", outcome.Benchmark),
		zap.String("state", string(outcome.State)),
		zap.Int("attempts", outcome.Attempts))

	if outcome.Artifact == nil {
		i.logger.Info("No results published, skipping publishers", zap.String("run_id", outcome.RunID))
		return outcome, nil
	}
	var errs []error
	for _, p := range i.publishers {
		if err := p.Publish(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return outcome, fmt.Errorf("failed to publish %s: %w", outcome.Artifact.Path, err)
	}
	return outcome, nil
}

func (i *Invoker) validate(attempt int, result *types.ExecutionResult) error {
	rate, err := external.ParseSuccessRate(result.Stderr)
	if err != nil {
		return &ValidationError{Attempt: attempt, Required: i.cfg.RequiredSuccessRate, Err: err}
	}
	if i.metrics != nil {
		if err := i.metrics.SetGauge(metricSuccessRate, rate, i.cfg.Benchmark); err != nil {
			i.logger.Warn("Failed to record success rate", zap.Error(err))
		}
	}
	if rate != i.cfg.RequiredSuccessRate {
		return &ValidationError{Attempt: attempt, Required: i.cfg.RequiredSuccessRate, SuccessRate: rate}
	}
	return nil
}

func (i *Invoker) terminalState(result *types.ExecutionResult) State {
	switch result.ExitStatus {
	case 0:
		return StateSuccess
	case i.cfg.TransportFailureStatus:
		return StateExhausted
	default:
		return StateOtherFailure
	}
}

func (i *Invoker) observeAttempt(result *types.ExecutionResult) {
	if i.metrics == nil {
		return
	}
	if err := i.metrics.AddCounter(metricAttempts, 1, i.cfg.Benchmark, strconv.Itoa(result.ExitStatus)); err != nil {
		i.logger.Warn("Failed to record attempt", zap.Error(err))
	}
	if err := i.metrics.ObserveHistogram(metricDuration, result.Duration.Seconds(), i.cfg.Benchmark); err != nil {
		i.logger.Warn("Failed to record duration", zap.Error(err))
	}
	if err := i.metrics.SetGauge(metricExitStatus, float64(result.ExitStatus), i.cfg.Benchmark); err != nil {
		i.logger.Warn("Failed to record exit status", zap.Error(err))
	}
}

func (i *Invoker) countInvocation(state State) {
	if i.metrics == nil {
		return
	}
	if err := i.metrics.AddCounter(metricInvocations, 1, i.cfg.Benchmark, string(state)); err != nil {
		i.logger.Warn("Failed to record invocation", zap.Error(err))
	}
}
