package bench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

func TestBigQueryPublisher_Args(t *testing.T) {
	p, err := NewBigQueryPublisher(DefaultLoadConfig(), &scriptedExecutor{}, &types.MockLogger{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"bq", "load",
		"--source_format=NEWLINE_DELIMITED_JSON",
		"perfkit_mart.express_cnn_hangzhou_us_opt",
		"/tmp/out.json",
		"/root/results_table_schema.json",
	}, p.Args("/tmp/out.json"))
}

func TestBigQueryPublisher_Publish(t *testing.T) {
	exec := &scriptedExecutor{results: []*types.ExecutionResult{result(1, "BigQuery error in load operation")}}
	logger := &types.MockLogger{}
	p, err := NewBigQueryPublisher(DefaultLoadConfig(), exec, logger)
	require.NoError(t, err)

	outcome := &Outcome{RunID: "run", Artifact: &types.Artifact{Path: "/tmp/out.json"}}
	require.NoError(t, p.Publish(context.Background(), outcome), "a failed load is only logged")

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].ForceInfoLog)
	assert.Equal(t, p.Args("/tmp/out.json"), calls[0].Args)
	assert.True(t, logger.Has("info", "Bulk load finished"))
}

func TestBigQueryPublisher_PublishWithoutArtifact(t *testing.T) {
	exec := &scriptedExecutor{}
	p, err := NewBigQueryPublisher(DefaultLoadConfig(), exec, &types.MockLogger{})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), &Outcome{}))
	assert.Empty(t, exec.Calls())
}

func TestBigQueryPublisher_LaunchFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New(`exec: "bq": executable file not found in $PATH`)}}
	p, err := NewBigQueryPublisher(DefaultLoadConfig(), exec, &types.MockLogger{})
	require.NoError(t, err)

	err = p.Publish(context.Background(), &Outcome{Artifact: &types.Artifact{Path: "/tmp/out.json"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable file not found")
}

func TestBigQueryPublisher_CheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		minVersion string
		result     *types.ExecutionResult
		wantCalls  int
		wantErr    bool
	}{
		{name: "no constraint", wantCalls: 0},
		{name: "satisfied", minVersion: ">= 2.0.0", result: &types.ExecutionResult{Stdout: "This is BigQuery CLI 2.0.98\n"}, wantCalls: 1},
		{name: "too old", minVersion: ">= 2.0.0", result: &types.ExecutionResult{Stdout: "This is BigQuery CLI 1.0.0\n"}, wantCalls: 1, wantErr: true},
		{name: "failed", minVersion: ">= 2.0.0", result: &types.ExecutionResult{ExitStatus: 127}, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{}
			if tt.result != nil {
				exec.results = []*types.ExecutionResult{tt.result}
			}
			cfg := DefaultLoadConfig()
			cfg.MinVersion = tt.minVersion
			p, err := NewBigQueryPublisher(cfg, exec, &types.MockLogger{})
			require.NoError(t, err)

			err = p.CheckVersion(context.Background())
			assert.Equal(t, tt.wantErr, err != nil, "error: %v", err)
			require.Len(t, exec.Calls(), tt.wantCalls)
			if tt.wantCalls > 0 {
				assert.Equal(t, []string{"bq", "version"}, exec.Calls()[0].Args)
			}
		})
	}
}

func TestNewBigQueryPublisher(t *testing.T) {
	noTable := DefaultLoadConfig()
	noTable.Table = ""
	_, err := NewBigQueryPublisher(noTable, &scriptedExecutor{}, &types.MockLogger{})
	assert.Error(t, err)
	_, err = NewBigQueryPublisher(DefaultLoadConfig(), nil, &types.MockLogger{})
	assert.Error(t, err)
	_, err = NewBigQueryPublisher(DefaultLoadConfig(), &scriptedExecutor{}, nil)
	assert.Error(t, err)
}

type mockRunStore struct {
	mock.Mock
}

func (m *mockRunStore) InsertRunSamples(ctx context.Context, run *external.RunDTO) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func TestStorePublisher_Publish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	content := `{"metric": "Min Latency", "value": 0.04, "unit": "ms", "labels": "|ip_type:internal|", "timestamp": 1452470652, "run_uri": "abc", "sample_uri": "s1", "test": "ping"}
{"metric": "Packet loss rate", "value": 0, "unit": "%", "labels": "|ip_type:internal|", "timestamp": 1452470652, "run_uri": "abc", "sample_uri": "s2", "test": "ping"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := &mockRunStore{}
	store.On("InsertRunSamples", mock.Anything, mock.MatchedBy(func(run *external.RunDTO) bool {
		return run.RunID == "run-1" &&
			run.State == string(StateSuccess) &&
			run.ExitStatus == 0 &&
			run.Attempts == 2 &&
			run.ArtifactPath == path &&
			len(run.Samples) == 2 &&
			run.Samples[0].Labels["ip_type"] == "internal"
	})).Return(nil).Once()

	p, err := NewStorePublisher(store, &types.MockLogger{})
	require.NoError(t, err)

	outcome := &Outcome{
		RunID:     "run-1",
		Benchmark: "ping",
		State:     StateSuccess,
		Attempts:  2,
		Result:    result(0, ""),
		Artifact:  &types.Artifact{Path: path, SampleCount: 2},
	}
	require.NoError(t, p.Publish(context.Background(), outcome))
	store.AssertExpectations(t)
}

func TestStorePublisher_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		p, err := NewStorePublisher(&mockRunStore{}, &types.MockLogger{})
		require.NoError(t, err)
		err = p.Publish(context.Background(), &Outcome{Artifact: &types.Artifact{Path: filepath.Join(t.TempDir(), "absent.json")}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open results file")
	})

	t.Run("store failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "results.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"metric": "m", "value": 1}`+"\n"), 0o600))
		store := &mockRunStore{}
		store.On("InsertRunSamples", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

		p, err := NewStorePublisher(store, &types.MockLogger{})
		require.NoError(t, err)
		err = p.Publish(context.Background(), &Outcome{RunID: "r", Artifact: &types.Artifact{Path: path}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewStorePublisher(nil, &types.MockLogger{})
		assert.Error(t, err)
	})
}
