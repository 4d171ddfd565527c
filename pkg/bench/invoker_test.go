package bench

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/internal/metrics"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

type recordingPublisher struct {
	err      error
	outcomes []*Outcome
}

func (r *recordingPublisher) Publish(_ context.Context, outcome *Outcome) error {
	r.outcomes = append(r.outcomes, outcome)
	return r.err
}

func newTestInvoker(t *testing.T, exec types.CommandExecutor, opts ...InvokerOption) *Invoker {
	t.Helper()
	inv, err := NewInvoker(DefaultConfig(), exec, &types.MockLogger{}, opts...)
	require.NoError(t, err)
	return inv
}

func TestNewInvoker(t *testing.T) {
	exec := &scriptedExecutor{}
	logger := &types.MockLogger{}
	bad := DefaultConfig()
	bad.Retries = 0

	tests := []struct {
		name     string
		cfg      Config
		executor types.CommandExecutor
		logger   types.Logger
		wantErr  string
	}{
		{name: "valid", cfg: DefaultConfig(), executor: exec, logger: logger},
		{name: "nil executor", cfg: DefaultConfig(), logger: logger, wantErr: "executor cannot be nil"},
		{name: "nil logger", cfg: DefaultConfig(), executor: exec, wantErr: "logger cannot be nil"},
		{name: "invalid config", cfg: bad, executor: exec, logger: logger, wantErr: "retries must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvoker(tt.cfg, tt.executor, tt.logger)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_RetriesTransportFailures(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{
		result(255, pkbStderr("100.00", "")),
		result(255, pkbStderr("100.00", "")),
		result(0, pkbStderr("100.00", "/tmp/out.json")),
	}}
	inv := newTestInvoker(t, exec)

	outcome, err := inv.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Len(t, exec.Calls(), 3)
	assert.Same(t, exec.results[2], outcome.Result)
	assert.Equal(t, StateSuccess, outcome.State)
	require.NotNil(t, outcome.Artifact)
	assert.Equal(t, "/tmp/out.json", outcome.Artifact.Path)
	assert.NotEmpty(t, outcome.RunID)

	for _, spec := range exec.Calls() {
		assert.Equal(t, DefaultConfig().Command, spec.Args)
		assert.Equal(t, DefaultTimeout, spec.Timeout)
	}
}

func TestRun_ExhaustsRetryBudget(t *testing.T) {
	exec := &scriptedExecutor{}
	for i := 0; i < DefaultRetries; i++ {
		exec.results = append(exec.results, result(255, pkbStderr("100", "")))
	}
	inv := newTestInvoker(t, exec)

	outcome, err := inv.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.Attempts)
	assert.Len(t, exec.Calls(), 5)
	assert.Same(t, exec.results[4], outcome.Result)
	assert.Equal(t, StateExhausted, outcome.State)
	assert.Nil(t, outcome.Artifact)
}

func TestRun_ValidationFailureAbortsImmediately(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{
		result(255, pkbStderr("87.0", "/tmp/out.json")),
		result(0, pkbStderr("100", "/tmp/out.json")),
	}}
	publisher := &recordingPublisher{}
	inv := newTestInvoker(t, exec, WithPublishers(publisher))

	outcome, err := inv.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Len(t, exec.Calls(), 1)
	assert.Empty(t, publisher.outcomes)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 1, validationErr.Attempt)
	assert.InDelta(t, 87.0, validationErr.SuccessRate, 1e-9)
	assert.NoError(t, validationErr.Err)
}

func TestRun_UnreadableSuccessRateIsAValidationFailure(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{
		result(255, "ssh: connect to host 10.0.0.2 port 22: Connection refused\n"),
	}}
	inv := newTestInvoker(t, exec)

	_, err := inv.Run(context.Background())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.True(t, errors.Is(err, external.ErrFieldMissing))
	assert.Len(t, exec.Calls(), 1)
}

func TestRun_OtherFailureIsFinal(t *testing.T) {
	tests := []struct {
		name   string
		result *types.ExecutionResult
	}{
		{name: "application failure", result: result(1, pkbStderr("0.00", "/tmp/partial.json"))},
		{name: "killed", result: &types.ExecutionResult{
			ExitStatus: types.ExitStatusKilled,
			TimedOut:   true,
			Stderr:     "Publishing 3 samples to /tmp/partial.json\n",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{results: []*types.ExecutionResult{tt.result}}
			publisher := &recordingPublisher{}
			inv := newTestInvoker(t, exec, WithPublishers(publisher))

			outcome, err := inv.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, outcome.Attempts)
			assert.Equal(t, StateOtherFailure, outcome.State)
			require.NotNil(t, outcome.Artifact)
			assert.Equal(t, "/tmp/partial.json", outcome.Artifact.Path)
			require.Len(t, publisher.outcomes, 1)
			assert.Same(t, outcome, publisher.outcomes[0])
		})
	}
}

func TestRun_NoArtifactSkipsPublishers(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{result(0, pkbStderr("100", ""))}}
	publisher := &recordingPublisher{}
	inv := newTestInvoker(t, exec, WithPublishers(publisher))

	outcome, err := inv.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, outcome.Artifact)
	assert.Empty(t, publisher.outcomes)
}

func TestRun_PublisherErrorsAreJoined(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{result(0, pkbStderr("100", "/tmp/out.json"))}}
	first := &recordingPublisher{err: errors.New("first failed")}
	second := &recordingPublisher{err: errors.New("second failed")}
	inv := newTestInvoker(t, exec, WithPublishers(first, second))

	outcome, err := inv.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "second failed")
	assert.Len(t, second.outcomes, 1)
}

func TestRun_ExecutorError(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("no such file or directory")}}
	inv := newTestInvoker(t, exec)

	_, err := inv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestRun_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &cancelingExecutor{cancel: cancel}
	inv := newTestInvoker(t, exec)

	_, err := inv.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, exec.calls)
}

type cancelingExecutor struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancelingExecutor) Execute(_ context.Context, _ types.CommandSpec) (*types.ExecutionResult, error) {
	c.calls++
	c.cancel()
	return result(255, pkbStderr("100", "")), nil
}

func TestRun_RecordsMetrics(t *testing.T) {
	collector := metrics.New("perfkit_hub")
	exec := &scriptedExecutor{results: []*types.ExecutionResult{
		result(255, pkbStderr("100", "")),
		result(0, pkbStderr("100", "")),
	}}
	inv := newTestInvoker(t, exec, WithCollector(collector))

	_, err := inv.Run(context.Background())
	require.NoError(t, err)

	body := scrape(t, collector)
	assert.Contains(t, body, `perfkit_hub_attempts_total{benchmark="ping",exit_status="255"} 1`)
	assert.Contains(t, body, `perfkit_hub_attempts_total{benchmark="ping",exit_status="0"} 1`)
	assert.Contains(t, body, `perfkit_hub_invocations_total{benchmark="ping",state="success"} 1`)
	assert.Contains(t, body, `perfkit_hub_command_duration_seconds_count{benchmark="ping"} 2`)
	assert.Contains(t, body, `perfkit_hub_last_exit_status{benchmark="ping"} 0`)
	assert.Contains(t, body, `perfkit_hub_last_success_rate{benchmark="ping"} 100`)
}

func TestRun_RecordsRejectedSuccessRate(t *testing.T) {
	collector := metrics.New("perfkit_hub")
	exec := &scriptedExecutor{results: []*types.ExecutionResult{result(255, pkbStderr("87.5", ""))}}
	inv := newTestInvoker(t, exec, WithCollector(collector))

	_, err := inv.Run(context.Background())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	body := scrape(t, collector)
	assert.Contains(t, body, `perfkit_hub_last_exit_status{benchmark="ping"} 255`)
	assert.Contains(t, body, `perfkit_hub_last_success_rate{benchmark="ping"} 87.5`)
	assert.Contains(t, body, `perfkit_hub_invocations_total{benchmark="ping",state="invalid"} 1`)
}

func scrape(t *testing.T, collector metrics.Collector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.MetricsHandler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}
