// Package config provides configuration management for the governor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"InferenceGovernor/pkg/backends"
	"InferenceGovernor/pkg/telemetry"
)

// Config holds all governor configuration options.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Backend   backends.Config `mapstructure:"backend" yaml:"backend"`
	Bench     BenchConfig     `mapstructure:"bench" yaml:"bench"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// PoolConfig controls session admission.
type PoolConfig struct {
	MaxSessions      int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	ThrottleFactor   float64       `mapstructure:"throttle_factor" yaml:"throttle_factor"`
	RejectOnCritical bool          `mapstructure:"reject_on_critical" yaml:"reject_on_critical"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxIdle          time.Duration `mapstructure:"max_idle" yaml:"max_idle"`
}

// TelemetryConfig controls the device poller.
type TelemetryConfig struct {
	Source   string               `mapstructure:"source" yaml:"source"`
	Interval time.Duration        `mapstructure:"interval" yaml:"interval"`
	Thermal  telemetry.Thresholds `mapstructure:"thermal" yaml:"thermal"`
	Memory   telemetry.Thresholds `mapstructure:"memory" yaml:"memory"`
}

// BenchConfig controls the load engine.
type BenchConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Levels            []int         `mapstructure:"levels" yaml:"levels"`
	RequestsPerClient int           `mapstructure:"requests_per_client" yaml:"requests_per_client"`
	LevelTimeout      time.Duration `mapstructure:"level_timeout" yaml:"level_timeout"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	Output            string        `mapstructure:"output" yaml:"output"`
	Report            string        `mapstructure:"report" yaml:"report"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default configuration values.
const (
	DefaultAddr              = ":8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 120 * time.Second
	DefaultShutdownGrace     = 15 * time.Second
	DefaultMaxBodyBytes      = 1 << 20
	DefaultMaxSessions       = 10
	DefaultThrottleFactor    = 0.5
	DefaultSweepInterval     = 60 * time.Second
	DefaultMaxIdle           = 300 * time.Second
	DefaultTelemetrySource   = telemetry.SourceAuto
	DefaultPollInterval      = 2 * time.Second
	DefaultBackend           = backends.KindSimulated
	DefaultModel             = "maintenance-assist"
	DefaultMaxTokens         = 512
	DefaultTemperature       = 0.7
	DefaultRequestsPerClient = 5
	DefaultOutput            = "benchmark_results.json"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// DefaultLevels are the benchmark concurrency levels.
func DefaultLevels() []int {
	return []int{1, 2, 4, 8}
}

// DefaultThermal returns the temperature thresholds in °C.
func DefaultThermal() telemetry.Thresholds {
	return telemetry.Thresholds{Warning: 75, Throttle: 83, Critical: 90}
}

// DefaultMemory returns the memory-used thresholds in percent.
func DefaultMemory() telemetry.Thresholds {
	return telemetry.Thresholds{Warning: 80, Throttle: 85, Critical: 90}
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          DefaultAddr,
			ReadTimeout:   DefaultReadTimeout,
			WriteTimeout:  DefaultWriteTimeout,
			ShutdownGrace: DefaultShutdownGrace,
			MaxBodyBytes:  DefaultMaxBodyBytes,
		},
		Pool: PoolConfig{
			MaxSessions:      DefaultMaxSessions,
			ThrottleFactor:   DefaultThrottleFactor,
			RejectOnCritical: true,
			SweepInterval:    DefaultSweepInterval,
			MaxIdle:          DefaultMaxIdle,
		},
		Telemetry: TelemetryConfig{
			Source:   DefaultTelemetrySource,
			Interval: DefaultPollInterval,
			Thermal:  DefaultThermal(),
			Memory:   DefaultMemory(),
		},
		Backend: backends.Config{
			Kind:         DefaultBackend,
			Model:        DefaultModel,
			BaseLatency:  backends.DefaultBaseLatency,
			TokenLatency: backends.DefaultTokenLatency,
			FixedTTFT:    10 * time.Millisecond,
			FixedTotal:   100 * time.Millisecond,
			FixedUnits:   50,
		},
		Bench: BenchConfig{
			Levels:            DefaultLevels(),
			RequestsPerClient: DefaultRequestsPerClient,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			Output:            DefaultOutput,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads an optional YAML file and INFGOV_* environment overrides on
// top of the defaults. An empty path reads only the environment.
func Load(path string) (*Config, error) {
	cfg := New()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed viper with every key so environment overrides apply to values
	// absent from the file.
	defaults, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(strings.NewReader(string(defaults))); err != nil {
		return nil, fmt.Errorf("failed to seed defaults: %w", err)
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cannot open config file: %w", err)
		}
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pool.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be at least 1, got %d", c.Pool.MaxSessions)
	}
	if c.Pool.ThrottleFactor <= 0 || c.Pool.ThrottleFactor > 1 {
		return fmt.Errorf("throttle factor must be in (0, 1], got %v", c.Pool.ThrottleFactor)
	}
	if c.Pool.MaxIdle < time.Second {
		return fmt.Errorf("max idle must be at least 1s, got %v", c.Pool.MaxIdle)
	}

	if c.Telemetry.Interval < 100*time.Millisecond {
		return fmt.Errorf("telemetry interval must be at least 100ms, got %v", c.Telemetry.Interval)
	}
	if !contains(telemetry.ValidSources(), c.Telemetry.Source) {
		return fmt.Errorf("invalid telemetry source: %s (valid: %s)", c.Telemetry.Source, strings.Join(telemetry.ValidSources(), ", "))
	}
	if err := c.Telemetry.Thermal.Validate(); err != nil {
		return fmt.Errorf("thermal %w", err)
	}
	if err := c.Telemetry.Memory.Validate(); err != nil {
		return fmt.Errorf("memory %w", err)
	}

	if !contains(backends.ValidKinds(), c.Backend.Kind) {
		return fmt.Errorf("invalid backend: %s (valid: %s)", c.Backend.Kind, strings.Join(backends.ValidKinds(), ", "))
	}
	if c.Backend.Kind == backends.KindOpenAI && c.Backend.Endpoint == "" {
		return fmt.Errorf("backend endpoint is required for the openai backend")
	}

	if len(c.Bench.Levels) == 0 {
		return fmt.Errorf("at least one concurrency level is required")
	}
	for _, l := range c.Bench.Levels {
		if l < 1 {
			return fmt.Errorf("concurrency levels must be positive, got %d", l)
		}
	}
	if c.Bench.RequestsPerClient < 1 {
		return fmt.Errorf("requests per client must be at least 1, got %d", c.Bench.RequestsPerClient)
	}
	if c.Bench.LevelTimeout < 0 {
		return fmt.Errorf("level timeout cannot be negative, got %v", c.Bench.LevelTimeout)
	}

	return nil
}

// ApplyDefaults fills in any missing values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Pool.SweepInterval == 0 {
		c.Pool.SweepInterval = DefaultSweepInterval
	}
	if c.Pool.MaxIdle == 0 {
		c.Pool.MaxIdle = DefaultMaxIdle
	}
	if c.Telemetry.Source == "" {
		c.Telemetry.Source = DefaultTelemetrySource
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = DefaultPollInterval
	}
	if c.Telemetry.Thermal == (telemetry.Thresholds{}) {
		c.Telemetry.Thermal = DefaultThermal()
	}
	if c.Telemetry.Memory == (telemetry.Thresholds{}) {
		c.Telemetry.Memory = DefaultMemory()
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = DefaultBackend
	}
	if c.Backend.Model == "" {
		c.Backend.Model = DefaultModel
	}
	if c.Backend.APIKey == "" {
		c.Backend.APIKey = os.Getenv(APIKeyEnvVar)
	}
	if len(c.Bench.Levels) == 0 {
		c.Bench.Levels = DefaultLevels()
	}
	if c.Bench.RequestsPerClient == 0 {
		c.Bench.RequestsPerClient = DefaultRequestsPerClient
	}
	if c.Bench.MaxTokens == 0 {
		c.Bench.MaxTokens = DefaultMaxTokens
	}
	if c.Bench.Output == "" {
		c.Bench.Output = DefaultOutput
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// YAML renders the configuration, omitting secrets.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Backend.APIKey != "" {
		redacted.Backend.APIKey = "********"
	}
	return yaml.Marshal(&redacted)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
