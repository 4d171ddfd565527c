package bench

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultRetries is the number of attempts the invoker makes before giving up.
	DefaultRetries = 5
	// DefaultTransportFailureStatus is the exit status ssh reports when it cannot connect.
	DefaultTransportFailureStatus = 255
	// DefaultTimeout is the wall-clock budget of one benchmark attempt.
	DefaultTimeout = 3000 * time.Second
	// DefaultRequiredSuccessRate is the success rate a transport-failed run must still report.
	DefaultRequiredSuccessRate = 100.0
)

// Config configures an Invoker.
type Config struct {
	// Env holds environment overrides for the benchmark command.
	Env map[string]string
	// Benchmark names the benchmark for logs, metrics and stored runs.
	Benchmark string
	// Command is the argv of the benchmarking tool.
	Command []string
	// Retries is the attempt budget; it must be at least 1.
	Retries int
	// TransportFailureStatus is the exit status that triggers a retry.
	TransportFailureStatus int
	// RequiredSuccessRate is the success rate, in percent, a transport-failed attempt must report.
	RequiredSuccessRate float64
	// Timeout is the budget of each attempt. types.NoTimeout disables it.
	Timeout time.Duration
}

// DefaultConfig returns the configuration of the ping benchmark between the Hangzhou and US
// regions.
func DefaultConfig() Config {
	return Config{
		Benchmark: "ping",
		Command: []string{
			"/root/PerfKitBenchmarker/pkb.py",
			"--benchmark_config_file=express_cnn_hangzhou_us.yaml",
			"--benchmarks=ping",
			"--log_level=info",
		},
		Retries:                DefaultRetries,
		TransportFailureStatus: DefaultTransportFailureStatus,
		RequiredSuccessRate:    DefaultRequiredSuccessRate,
		Timeout:                DefaultTimeout,
	}
}

// Validate checks the configuration for values the invoker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Command) == 0 {
		errs = append(errs, errors.New("command cannot be empty"))
	}
	if c.Retries < 1 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", c.Retries))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout cannot be negative, got %s", c.Timeout))
	}
	if c.RequiredSuccessRate < 0 || c.RequiredSuccessRate > 100 {
		errs = append(errs, fmt.Errorf("required success rate must be within [0, 100], got %v", c.RequiredSuccessRate))
	}
	return errors.Join(errs...)
}
