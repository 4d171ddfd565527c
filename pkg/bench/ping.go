package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/internal/external"
	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

const pingTest = "ping"

// VM is a machine taking part in the ping benchmark.
type VM struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Zone       string `mapstructure:"zone" yaml:"zone"`
	InternalIP string `mapstructure:"internal_ip" yaml:"internal_ip"`
	ExternalIP string `mapstructure:"external_ip" yaml:"external_ip"`
	// SSHUser makes the benchmark run ping on the VM over ssh. Empty runs ping locally.
	SSHUser    string `mapstructure:"ssh_user" yaml:"ssh_user"`
	SSHKeyPath string `mapstructure:"ssh_key_path" yaml:"ssh_key_path"`
}

// PingConfig configures a PingBenchmark.
type PingConfig struct {
	Owner      string
	ResultsDir string
	Count      int
	Interval   time.Duration
	Timeout    time.Duration
	// UseExternalIP pings the external address of the receiving VM instead of the internal one.
	UseExternalIP bool
}

// DefaultPingConfig sends 250 pings one second apart.
func DefaultPingConfig() PingConfig {
	return PingConfig{
		Count:      250,
		Interval:   time.Second,
		Timeout:    10 * time.Minute,
		ResultsDir: os.TempDir(),
	}
}

// PairError is a VM pair whose ping could not be measured.
type PairError struct {
	Err  error
	From string
	To   string
}

func (e *PairError) Error() string {
	return fmt.Sprintf("ping from %s to %s: %v", e.From, e.To, e.Err)
}

func (e *PairError) Unwrap() error {
	return e.Err
}

// PingReport is the result of one ping benchmark run.
type PingReport struct {
	RunURI  string
	Samples []types.Sample
	Errors  []error
	Pairs   int
}

// SuccessRate is the percentage of VM pairs that were measured.
func (r *PingReport) SuccessRate() float64 {
	if r.Pairs == 0 {
		return 100
	}
	return 100 * float64(r.Pairs-len(r.Errors)) / float64(r.Pairs)
}

// PingBenchmark measures latency and packet loss between every pair of VMs.
type PingBenchmark struct {
	executor types.CommandExecutor
	logger   types.Logger
	now      func() time.Time
	cfg      PingConfig
}

// NewPingBenchmark creates a PingBenchmark.
func NewPingBenchmark(cfg PingConfig, executor types.CommandExecutor, logger types.Logger) (*PingBenchmark, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Count < 1 {
		return nil, fmt.Errorf("ping count must be at least 1, got %d", cfg.Count)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("ping interval must be positive, got %s", cfg.Interval)
	}
	return &PingBenchmark{cfg: cfg, executor: executor, logger: logger, now: time.Now}, nil
}

// Args returns the command that pings to from from.
func (p *PingBenchmark) Args(from, to VM) []string {
	target := to.InternalIP
	if p.cfg.UseExternalIP {
		target = to.ExternalIP
	}
	ping := []string{
		"ping",
		"-c", strconv.Itoa(p.cfg.Count),
		"-i", strconv.FormatFloat(p.cfg.Interval.Seconds(), 'f', -1, 64),
		target,
	}
	if from.SSHUser == "" {
		return ping
	}
	host := from.ExternalIP
	if host == "" {
		host = from.InternalIP
	}
	args := []string{"ssh", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=no"}
	if from.SSHKeyPath != "" {
		args = append(args, "-i", from.SSHKeyPath)
	}
	args = append(args, from.SSHUser+"@"+host)
	return append(args, ping...)
}

// Run pings from every VM to every VM after it in vms. A pair whose ping exits non-zero is
// recorded in the report and does not stop the others. A command that cannot be started, or a
// summary that does not hold exactly the expected fields, aborts the run with an error.
func (p *PingBenchmark) Run(ctx context.Context, vms []VM) (*PingReport, error) {
	report := &PingReport{RunURI: uuid.NewString()[:8]}
	ipType := "internal"
	if p.cfg.UseExternalIP {
		ipType = "external"
	}
	for i := 0; i < len(vms); i++ {
		for j := i + 1; j < len(vms); j++ {
			if err := ctx.Err(); err != nil {
				return report, fmt.Errorf("ping benchmark interrupted: %w", err)
			}
			report.Pairs++
			from, to := vms[i], vms[j]
			stats, err := p.ping(ctx, from, to)
			if err != nil {
				var pairErr *PairError
				if !errors.As(err, &pairErr) {
					return report, err
				}
				p.logger.Warn("Ping failed", zap.Error(err))
				report.Errors = append(report.Errors, err)
				continue
			}
			metadata := map[string]string{
				"ip_type":        ipType,
				"sending_vm":     from.Name,
				"receiving_vm":   to.Name,
				"sending_zone":   from.Zone,
				"receiving_zone": to.Zone,
			}
			report.Samples = append(report.Samples, p.samples(report.RunURI, stats, metadata)...)
		}
	}
	return report, nil
}

func (p *PingBenchmark) ping(ctx context.Context, from, to VM) (*external.PingStats, error) {
	result, err := p.executor.Execute(ctx, types.CommandSpec{
		Args:         p.Args(from, to),
		Timeout:      p.cfg.Timeout,
		ForceInfoLog: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ping from %s: %w", from.Name, err)
	}
	if result.ExitStatus != 0 {
		return nil, &PairError{From: from.Name, To: to.Name, Err: fmt.Errorf("exit status %d: %s", result.ExitStatus, result.Stderr)}
	}
	stats, err := external.ParsePingStats(result.Stdout)
	if err != nil {
		return nil, fmt.Errorf("unreadable ping summary from %s to %s: %w", from.Name, to.Name, err)
	}
	return stats, nil
}

func (p *PingBenchmark) samples(runURI string, stats *external.PingStats, metadata map[string]string) []types.Sample {
	timestamp := float64(p.now().UnixNano()) / float64(time.Second)
	values := []struct {
		metric string
		unit   string
		value  float64
	}{
		{"Min Latency", "ms", stats.MinLatency},
		{"Average Latency", "ms", stats.AvgLatency},
		{"Max Latency", "ms", stats.MaxLatency},
		{"Latency Std Dev", "ms", stats.StdDevLatency},
		{"Packet loss rate", "%", stats.PacketLoss},
	}
	samples := make([]types.Sample, 0, len(values))
	for _, v := range values {
		samples = append(samples, types.Sample{
			Metric:    v.metric,
			Value:     v.value,
			Unit:      v.unit,
			Metadata:  metadata,
			Labels:    external.FormatLabels(metadata),
			Timestamp: timestamp,
			RunURI:    runURI,
			SampleURI: uuid.NewString(),
			Test:      pingTest,
			Owner:     p.cfg.Owner,
		})
	}
	return samples
}

// Publish writes the report's samples as newline-delimited JSON into the results directory and
// logs the "Publishing <n> samples to <path>" line the invoker looks for.
func (p *PingBenchmark) Publish(report *PingReport) (types.Artifact, error) {
	if report == nil {
		return types.Artifact{}, fmt.Errorf("report cannot be nil")
	}
	dir := filepath.Join(p.cfg.ResultsDir, report.RunURI)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Artifact{}, fmt.Errorf("failed to create results directory: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, "perfkitbenchmarker_results.json"))
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to resolve results path: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	p.logger.Info(fmt.Sprintf("Publishing %d samples to %s", len(report.Samples), path))
	if err := external.WriteSamples(f, report.Samples); err != nil {
		return types.Artifact{}, err
	}
	if err := f.Sync(); err != nil {
		return types.Artifact{}, fmt.Errorf("failed to flush results file: %w", err)
	}
	return types.Artifact{Path: path, SampleCount: len(report.Samples)}, nil
}
