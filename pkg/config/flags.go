package config

import (
	"github.com/spf13/cobra"
)

// AddServerFlags adds HTTP server flags to a command.
func (c *Config) AddServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&c.Server.Addr, "addr", c.Server.Addr, "Listen address")
	flags.DurationVar(&c.Server.ShutdownGrace, "shutdown-grace", c.Server.ShutdownGrace, "Time allowed for in-flight requests on shutdown")
}

// AddPoolFlags adds session pool flags to a command.
func (c *Config) AddPoolFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&c.Pool.MaxSessions, "max-sessions", c.Pool.MaxSessions, "Maximum concurrent sessions")
	flags.Float64Var(&c.Pool.ThrottleFactor, "throttle-factor", c.Pool.ThrottleFactor, "Capacity multiplier while throttling (0-1]")
	flags.BoolVar(&c.Pool.RejectOnCritical, "reject-on-critical", c.Pool.RejectOnCritical, "Reject new sessions while device state is critical")
	flags.DurationVar(&c.Pool.MaxIdle, "max-idle", c.Pool.MaxIdle, "Idle time before a session is swept")
	flags.DurationVar(&c.Pool.SweepInterval, "sweep-interval", c.Pool.SweepInterval, "Idle session sweep cadence")
}

// AddTelemetryFlags adds device telemetry flags to a command.
func (c *Config) AddTelemetryFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&c.Telemetry.Source, "telemetry", c.Telemetry.Source, "Telemetry source (auto, nvml, host, static, none)")
	flags.DurationVar(&c.Telemetry.Interval, "poll-interval", c.Telemetry.Interval, "Telemetry poll interval")
	flags.Float64Var(&c.Telemetry.Thermal.Warning, "temp-warning", c.Telemetry.Thermal.Warning, "Temperature warning threshold (°C)")
	flags.Float64Var(&c.Telemetry.Thermal.Throttle, "temp-throttle", c.Telemetry.Thermal.Throttle, "Temperature throttle threshold (°C)")
	flags.Float64Var(&c.Telemetry.Thermal.Critical, "temp-critical", c.Telemetry.Thermal.Critical, "Temperature critical threshold (°C)")
	flags.Float64Var(&c.Telemetry.Memory.Warning, "mem-warning", c.Telemetry.Memory.Warning, "Memory warning threshold (%)")
	flags.Float64Var(&c.Telemetry.Memory.Throttle, "mem-throttle", c.Telemetry.Memory.Throttle, "Memory throttle threshold (%)")
	flags.Float64Var(&c.Telemetry.Memory.Critical, "mem-critical", c.Telemetry.Memory.Critical, "Memory critical threshold (%)")
}

// AddBackendFlags adds work executor flags to a command.
func (c *Config) AddBackendFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&c.Backend.Kind, "backend", c.Backend.Kind, "Backend (simulated, fixed, openai)")
	flags.StringVar(&c.Backend.Model, "model", c.Backend.Model, "Model name")
	flags.StringVar(&c.Backend.Endpoint, "backend-url", c.Backend.Endpoint, "OpenAI-compatible base URL (e.g. http://localhost:8000/v1)")
	flags.DurationVar(&c.Backend.BaseLatency, "sim-base-latency", c.Backend.BaseLatency, "Simulated time to first token")
	flags.DurationVar(&c.Backend.TokenLatency, "sim-token-latency", c.Backend.TokenLatency, "Simulated per-token latency")
}

// AddBenchFlags adds load engine flags to a command.
func (c *Config) AddBenchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&c.Bench.Endpoint, "endpoint", c.Bench.Endpoint, "Governor URL to benchmark (in-process if empty)")
	flags.IntSliceVarP(&c.Bench.Levels, "concurrency", "c", c.Bench.Levels, "Concurrency levels")
	flags.IntVarP(&c.Bench.RequestsPerClient, "requests", "n", c.Bench.RequestsPerClient, "Requests per client")
	flags.DurationVar(&c.Bench.LevelTimeout, "level-timeout", c.Bench.LevelTimeout, "Abort a level after this long (0 = no limit)")
	flags.IntVar(&c.Bench.MaxTokens, "max-tokens", c.Bench.MaxTokens, "Max tokens per request")
	flags.StringVarP(&c.Bench.Output, "output", "o", c.Bench.Output, "Results file (.json, .jsonl, .csv, .tsv, .parquet)")
	flags.StringVar(&c.Bench.Report, "report", c.Bench.Report, "Write an HTML report to this path")
}

// AddLogFlags adds logging flags to a command and its children.
func (c *Config) AddLogFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug, info, warn, error)")
	flags.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format (console, json)")
}
