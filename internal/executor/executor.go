package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/internal/log"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// DefaultWaitDelay bounds how long Wait keeps draining output after the process is gone,
// for descendants that inherited the pipes and outlive it.
const DefaultWaitDelay = 5 * time.Second

var errEmptyCommand = errors.New("command cannot be empty")

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct {
	logger    types.Logger
	waitDelay time.Duration
}

// Option configures a RealCommandExecutor.
type Option func(*RealCommandExecutor)

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) Option {
	return func(r *RealCommandExecutor) {
		r.waitDelay = d
	}
}

// WithLogger overrides the logger taken from the context.
func WithLogger(logger types.Logger) Option {
	return func(r *RealCommandExecutor) {
		r.logger = logger
	}
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor that logs through the
// logger carried by ctx.
func NewCommandExecutor(ctx context.Context, opts ...Option) *RealCommandExecutor {
	r := &RealCommandExecutor{
		logger:    log.NewLogger(ctx),
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs one external command and blocks until it has terminated and both output
// streams are drained. When spec.Timeout elapses, or ctx is canceled, the process is killed
// and whatever it wrote until then is returned with ExitStatus set to types.ExitStatusKilled.
func (r *RealCommandExecutor) Execute(ctx context.Context, spec types.CommandSpec) (*types.ExecutionResult, error) {
	if len(spec.Args) == 0 {
		return nil, errEmptyCommand
	}
	fullCmd := strings.Join(spec.Args, " ")
	r.logger.Debug("Environment variables", zap.Any("env", spec.Env))
	r.logger.Info("Running", zap.String("command", fullCmd))

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...) //nolint:gosec
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	if spec.Input != nil {
		cmd.Stdin = bytes.NewReader(spec.Input)
	}
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	cmd.WaitDelay = r.waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting %s: %w", spec.Args[0], err)
	}

	wd := startWatchdog(ctx, spec.Timeout, cmd.Process.Kill)
	waitErr := cmd.Wait()
	reason := wd.disarm()
	duration := time.Since(start)

	if cmd.ProcessState == nil {
		return nil, fmt.Errorf("error waiting for %s: %w", spec.Args[0], waitErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		r.logger.Warn("Output of command may be incomplete",
			zap.String("command", fullCmd), zap.Error(waitErr))
	}

	result := &types.ExecutionResult{
		Stdout:     decodeASCII(outb.Bytes()),
		Stderr:     decodeASCII(errb.Bytes()),
		ExitStatus: cmd.ProcessState.ExitCode(),
		Duration:   duration,
	}
	// ExitCode is -1 only when a signal ended the process; anything else means it exited on its
	// own before the kill landed.
	if reason != notFired && result.ExitStatus == -1 {
		result.ExitStatus = types.ExitStatusKilled
		result.TimedOut = reason == reasonTimeout
		result.Canceled = reason == reasonCanceled
		r.logger.Error("Command "+reason.String()+", killed",
			zap.Duration("timeout", spec.Timeout), zap.String("command", fullCmd))
	}

	fields := []interface{}{
		zap.String("command", fullCmd),
		zap.Int("exit_status", result.ExitStatus),
		zap.String("stdout", result.Stdout),
		zap.String("stderr", result.Stderr),
	}
	if spec.ForceInfoLog || (result.ExitStatus != 0 && !spec.SuppressWarning) {
		r.logger.Info("Ran command", fields...)
	} else {
		r.logger.Debug("Ran command", fields...)
	}

	return result, nil
}

// mergeEnv returns base with overrides applied; overridden keys are dropped from base and the
// overrides are appended in key order.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		env = append(env, key+"="+overrides[key])
	}
	return env
}
