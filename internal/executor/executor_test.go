package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/perfkit-hub/internal/log"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

func newTestExecutor(t *testing.T) (*RealCommandExecutor, *types.MockLogger) {
	t.Helper()
	logger := &types.MockLogger{}
	return NewCommandExecutor(log.WithLogger(context.Background(), logger)), logger
}

// TestRealCommandExecutor_Execute tests the Execute method of the RealCommandExecutor.
func TestRealCommandExecutor_Execute(t *testing.T) {
	tests := []struct {
		name           string
		spec           types.CommandSpec
		wantStdout     string
		wantStderr     string
		wantExitStatus int
		wantErr        bool
	}{
		{
			name:       "echo command without error",
			spec:       types.CommandSpec{Args: []string{"echo", "hello world"}},
			wantStdout: "hello world\n",
		},
		{
			name: "echo command with env var",
			spec: types.CommandSpec{
				Args: []string{"sh", "-c", "printf %s \"$TEST_VAR\""},
				Env:  map[string]string{"TEST_VAR": "hello"},
			},
			wantStdout: "hello",
		},
		{
			name: "input is fed to stdin",
			spec: types.CommandSpec{
				Args:  []string{"cat"},
				Input: []byte("piped input"),
			},
			wantStdout: "piped input",
		},
		{
			name:           "non-zero exit status is data",
			spec:           types.CommandSpec{Args: []string{"sh", "-c", "echo oops >&2; exit 3"}},
			wantStderr:     "oops\n",
			wantExitStatus: 3,
		},
		{
			name:           "no timeout waits for natural exit",
			spec:           types.CommandSpec{Args: []string{"sh", "-c", "sleep 0.3; exit 4"}, Timeout: types.NoTimeout},
			wantExitStatus: 4,
		},
		{
			name:       "undecodable bytes are dropped",
			spec:       types.CommandSpec{Args: []string{"sh", "-c", `printf '\377\376hi\200'`}},
			wantStdout: "hi",
		},
		{
			name:    "non-existent command",
			spec:    types.CommandSpec{Args: []string{"nonexistentcmd"}},
			wantErr: true,
		},
		{
			name:    "empty command",
			spec:    types.CommandSpec{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestExecutor(t)
			got, err := r.Execute(context.Background(), tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Stdout != tt.wantStdout {
				t.Errorf("Execute() gotStdout = %q, want %q", got.Stdout, tt.wantStdout)
			}
			if got.Stderr != tt.wantStderr {
				t.Errorf("Execute() gotStderr = %q, want %q", got.Stderr, tt.wantStderr)
			}
			if got.ExitStatus != tt.wantExitStatus {
				t.Errorf("Execute() gotExitStatus = %d, want %d", got.ExitStatus, tt.wantExitStatus)
			}
			if got.TimedOut || got.Canceled {
				t.Errorf("Execute() process unexpectedly killed: %+v", got)
			}
		})
	}
}

func TestExecute_InheritsParentEnvironment(t *testing.T) {
	t.Setenv("PERFKIT_HUB_PARENT", "parent")
	t.Setenv("PERFKIT_HUB_OVERRIDDEN", "parent")
	r, _ := newTestExecutor(t)

	got, err := r.Execute(context.Background(), types.CommandSpec{
		Args: []string{"sh", "-c", `printf '%s %s' "$PERFKIT_HUB_PARENT" "$PERFKIT_HUB_OVERRIDDEN"`},
		Env:  map[string]string{"PERFKIT_HUB_OVERRIDDEN": "child"},
	})
	require.NoError(t, err)
	assert.Equal(t, "parent child", got.Stdout)
}

func TestExecute_TimeoutKillsProcess(t *testing.T) {
	r, logger := newTestExecutor(t)

	start := time.Now()
	got, err := r.Execute(context.Background(), types.CommandSpec{
		Args:    []string{"sh", "-c", "printf partial; printf err >&2; exec sleep 10"},
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, got.TimedOut)
	assert.False(t, got.Canceled)
	assert.Equal(t, types.ExitStatusKilled, got.ExitStatus)
	assert.Equal(t, "partial", got.Stdout)
	assert.Equal(t, "err", got.Stderr)
	assert.Less(t, elapsed, 5*time.Second)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.True(t, logger.Has("error", "Command timed out, killed"))
}

func TestExecute_ContextCancelKillsProcess(t *testing.T) {
	r, logger := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	got, err := r.Execute(ctx, types.CommandSpec{Args: []string{"sh", "-c", "exec sleep 10"}})
	require.NoError(t, err)
	assert.True(t, got.Canceled)
	assert.False(t, got.TimedOut)
	assert.Equal(t, types.ExitStatusKilled, got.ExitStatus)
	assert.True(t, logger.Has("error", "Command canceled, killed"))
}

func TestExecute_KillLogFollowsResult(t *testing.T) {
	r, logger := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := r.Execute(ctx, types.CommandSpec{Args: []string{"true"}})
	require.NoError(t, err)
	if got.Canceled {
		assert.Equal(t, types.ExitStatusKilled, got.ExitStatus)
		assert.True(t, logger.Has("error", "Command canceled, killed"))
		return
	}
	assert.Equal(t, 0, got.ExitStatus)
	assert.False(t, logger.Has("error", "Command canceled, killed"))
}

func TestExecute_FastProcessIsNotKilledAfterExit(t *testing.T) {
	r, logger := newTestExecutor(t)

	got, err := r.Execute(context.Background(), types.CommandSpec{
		Args:    []string{"true"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	assert.False(t, got.TimedOut)
	assert.False(t, got.Canceled)
	assert.Equal(t, 0, got.ExitStatus)
	assert.False(t, logger.Has("error", "Command timed out, killed"))
}

func TestExecute_LogLevels(t *testing.T) {
	tests := []struct {
		name      string
		spec      types.CommandSpec
		wantLevel string
	}{
		{
			name:      "success logs at debug",
			spec:      types.CommandSpec{Args: []string{"true"}},
			wantLevel: "debug",
		},
		{
			name:      "failure logs at info",
			spec:      types.CommandSpec{Args: []string{"false"}},
			wantLevel: "info",
		},
		{
			name:      "suppressed failure logs at debug",
			spec:      types.CommandSpec{Args: []string{"false"}, SuppressWarning: true},
			wantLevel: "debug",
		},
		{
			name:      "forced info on success",
			spec:      types.CommandSpec{Args: []string{"true"}, ForceInfoLog: true},
			wantLevel: "info",
		},
		{
			name:      "forced info wins over suppression",
			spec:      types.CommandSpec{Args: []string{"false"}, ForceInfoLog: true, SuppressWarning: true},
			wantLevel: "info",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, logger := newTestExecutor(t)
			_, err := r.Execute(context.Background(), tt.spec)
			require.NoError(t, err)
			assert.True(t, logger.Has(tt.wantLevel, "Ran command"), "entries: %+v", logger.Entries())
			assert.True(t, logger.Has("info", "Running"))
			assert.True(t, logger.Has("debug", "Environment variables"))
		})
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv(
		[]string{"A=1", "B=2", "C=3"},
		map[string]string{"B": "override", "D": "4"},
	)
	assert.Equal(t, []string{"A=1", "C=3", "B=override", "D=4"}, got)
}
