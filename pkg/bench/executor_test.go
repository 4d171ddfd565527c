package bench

import (
	"context"
	"fmt"
	"sync"

	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// scriptedExecutor returns its results in order and records every spec it was given.
type scriptedExecutor struct {
	results []*types.ExecutionResult
	errs    []error
	calls   []types.CommandSpec
	mu      sync.Mutex
}

func (s *scriptedExecutor) Execute(_ context.Context, spec types.CommandSpec) (*types.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.calls)
	s.calls = append(s.calls, spec)
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n >= len(s.results) {
		return nil, fmt.Errorf("unexpected call %d: %v", n+1, spec.Args)
	}
	return s.results[n], nil
}

func (s *scriptedExecutor) Calls() []types.CommandSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.CommandSpec(nil), s.calls...)
}

// pkbStderr renders the tail of the benchmarking tool's stderr.
func pkbStderr(successRate string, publishedPath string) string {
	s := "2016-01-11 00:00:01,101 abc123 MainThread INFO     Verbose logging to: /tmp/pkb.log\n"
	if publishedPath != "" {
		s += "2016-01-11 00:04:12,412 abc123 MainThread ping(1/1) INFO     Publishing 10 samples to " + publishedPath + "\n"
	}
	s += "-------------------------PerfKitBenchmarker Complete Results-------------------------\n"
	s += "Success rate: " + successRate + "% (1/1)\n"
	s += "Complete logs can be found at: /tmp/pkb.log\n"
	return s
}

func result(status int, stderr string) *types.ExecutionResult {
	return &types.ExecutionResult{ExitStatus: status, Stderr: stderr}
}
