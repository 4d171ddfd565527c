package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/defenseunicorns/perfkit-hub/internal/sql"
	"github.com/defenseunicorns/perfkit-hub/pkg/bench"
)

// EnvPrefix prefixes the environment variables that override configuration keys, with dots
// replaced by underscores: PERFKIT_HUB_INVOKER_RETRIES sets invoker.retries.
const EnvPrefix = "PERFKIT_HUB"

// Config is the configuration of perfkit-hub.
type Config struct {
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Invoker   InvokerConfig   `mapstructure:"invoker"`
	Load      LoadConfig      `mapstructure:"load"`
	Store     StoreConfig     `mapstructure:"store"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Ping      PingConfig      `mapstructure:"ping"`
	Log       LogConfig       `mapstructure:"log"`
}

// BenchmarkConfig names the benchmark and the command line that runs it.
type BenchmarkConfig struct {
	Name    string   `mapstructure:"name"`
	Command []string `mapstructure:"command"`
	// Env holds KEY=VALUE entries. Map keys would be lower-cased by the config loader.
	Env []string `mapstructure:"env"`
}

// InvokerConfig controls retries and success-rate validation of the benchmark command.
type InvokerConfig struct {
	Retries                int           `mapstructure:"retries"`
	TransportFailureStatus int           `mapstructure:"transport_failure_status"`
	RequiredSuccessRate    float64       `mapstructure:"required_success_rate"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

// LoadConfig describes the optional warehouse load of a published artifact.
type LoadConfig struct {
	Command      []string      `mapstructure:"command"`
	SourceFormat string        `mapstructure:"source_format"`
	Table        string        `mapstructure:"table"`
	SchemaPath   string        `mapstructure:"schema_path"`
	MinVersion   string        `mapstructure:"min_version"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Enabled      bool          `mapstructure:"enabled"`
}

// StoreConfig selects the run store database and its retention.
type StoreConfig struct {
	DB sql.DBConfig `mapstructure:"db"`
	// Retention prunes runs older than this after every scheduled run. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
	Enabled   bool          `mapstructure:"enabled"`
}

// ScheduleConfig places the scheduled runs within the day.
type ScheduleConfig struct {
	// Interval is the spacing of the daily slots, counted from midnight plus Offset.
	Interval time.Duration `mapstructure:"interval"`
	Offset   time.Duration `mapstructure:"offset"`
}

// ServerConfig holds the listen addresses of the metrics and pprof servers.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
	PprofAddr   string `mapstructure:"pprof_addr"`
}

// PingConfig configures the built-in ping benchmark.
type PingConfig struct {
	VMs           []bench.VM    `mapstructure:"vms"`
	Owner         string        `mapstructure:"owner"`
	ResultsDir    string        `mapstructure:"results_dir"`
	Count         int           `mapstructure:"count"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UseExternalIP bool          `mapstructure:"use_external_ip"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"retries":      "invoker.retries",
	"timeout":      "invoker.timeout",
	"interval":     "schedule.interval",
	"metrics-addr": "server.metrics_addr",
	"pprof-addr":   "server.pprof_addr",
	"db-type":      "store.db.type",
	"db-path":      "store.db.path",
	"store":        "store.enabled",
	"load":         "load.enabled",
	"external-ip":  "ping.use_external_ip",
	"results-dir":  "ping.results_dir",
}

func setDefaults(v *viper.Viper) {
	inv := bench.DefaultConfig()
	v.SetDefault("benchmark.name", inv.Benchmark)
	v.SetDefault("benchmark.command", inv.Command)
	v.SetDefault("benchmark.env", []string{})
	v.SetDefault("invoker.retries", inv.Retries)
	v.SetDefault("invoker.transport_failure_status", inv.TransportFailureStatus)
	v.SetDefault("invoker.required_success_rate", inv.RequiredSuccessRate)
	v.SetDefault("invoker.timeout", inv.Timeout)

	load := bench.DefaultLoadConfig()
	v.SetDefault("load.enabled", true)
	v.SetDefault("load.command", load.Command)
	v.SetDefault("load.source_format", load.SourceFormat)
	v.SetDefault("load.table", load.Table)
	v.SetDefault("load.schema_path", load.SchemaPath)
	v.SetDefault("load.min_version", "")
	v.SetDefault("load.timeout", load.Timeout)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.retention", 0)
	v.SetDefault("store.db.type", sql.TypeSQLite)
	v.SetDefault("store.db.path", "perfkit-hub.db")
	v.SetDefault("store.db.dsn", "")
	v.SetDefault("store.db.instance_connection_name", "")
	v.SetDefault("store.db.user", "")
	v.SetDefault("store.db.password", "")
	v.SetDefault("store.db.name", "")
	v.SetDefault("store.db.verbose", false)

	v.SetDefault("schedule.interval", 5*time.Minute)
	v.SetDefault("schedule.offset", 0)

	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.pprof_addr", "")

	ping := bench.DefaultPingConfig()
	v.SetDefault("ping.owner", "")
	v.SetDefault("ping.results_dir", ping.ResultsDir)
	v.SetDefault("ping.count", ping.Count)
	v.SetDefault("ping.interval", ping.Interval)
	v.SetDefault("ping.timeout", ping.Timeout)
	v.SetDefault("ping.use_external_ip", false)

	v.SetDefault("log.level", "info")
}

// Load reads the configuration. Values come, in increasing priority, from the defaults, the
// config file, PERFKIT_HUB_* environment variables and the flags in flags that were set.
// An empty path searches for perfkit-hub.yaml in the working directory, ~/.perfkit-hub and
// /etc/perfkit-hub; not finding one is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("perfkit-hub")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".perfkit-hub"))
		}
		v.AddConfigPath("/etc/perfkit-hub")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if err := c.InvokerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, kv := range c.Benchmark.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || key == "" {
			errs = append(errs, fmt.Errorf("benchmark env entry %q is not KEY=VALUE", kv))
		}
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, fmt.Errorf("schedule interval must be positive, got %s", c.Schedule.Interval))
	}
	if c.Schedule.Offset < 0 {
		errs = append(errs, fmt.Errorf("schedule offset cannot be negative, got %s", c.Schedule.Offset))
	}
	if c.Load.Enabled && (len(c.Load.Command) == 0 || c.Load.Table == "") {
		errs = append(errs, errors.New("load command and table are required when load is enabled"))
	}
	if c.Store.Enabled {
		switch c.Store.DB.Type {
		case sql.TypeSQLite, sql.TypePostgres, sql.TypeCloudSQL:
		default:
			errs = append(errs, fmt.Errorf("unknown store db type %q", c.Store.DB.Type))
		}
	}
	if c.Store.Retention < 0 {
		errs = append(errs, fmt.Errorf("store retention cannot be negative, got %s", c.Store.Retention))
	}
	if c.Ping.Count < 1 {
		errs = append(errs, fmt.Errorf("ping count must be at least 1, got %d", c.Ping.Count))
	}
	if c.Ping.Interval <= 0 {
		errs = append(errs, fmt.Errorf("ping interval must be positive, got %s", c.Ping.Interval))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// InvokerConfig returns the configuration of the benchmark invoker.
func (c *Config) InvokerConfig() bench.Config {
	var env map[string]string
	for _, kv := range c.Benchmark.Env {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			if env == nil {
				env = make(map[string]string)
			}
			env[key] = value
		}
	}
	return bench.Config{
		Benchmark:              c.Benchmark.Name,
		Command:                c.Benchmark.Command,
		Env:                    env,
		Retries:                c.Invoker.Retries,
		TransportFailureStatus: c.Invoker.TransportFailureStatus,
		RequiredSuccessRate:    c.Invoker.RequiredSuccessRate,
		Timeout:                c.Invoker.Timeout,
	}
}

// LoadConfig returns the configuration of the bulk load publisher.
func (c *Config) LoadConfig() bench.LoadConfig {
	return bench.LoadConfig{
		Command:      c.Load.Command,
		SourceFormat: c.Load.SourceFormat,
		Table:        c.Load.Table,
		SchemaPath:   c.Load.SchemaPath,
		MinVersion:   c.Load.MinVersion,
		Timeout:      c.Load.Timeout,
	}
}

// PingConfig returns the configuration of the ping benchmark.
func (c *Config) PingConfig() bench.PingConfig {
	return bench.PingConfig{
		Owner:         c.Ping.Owner,
		ResultsDir:    c.Ping.ResultsDir,
		Count:         c.Ping.Count,
		Interval:      c.Ping.Interval,
		Timeout:       c.Ping.Timeout,
		UseExternalIP: c.Ping.UseExternalIP,
	}
}
