package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{1, 2, 4, 8}, cfg.Bench.Levels)
	assert.Equal(t, 10, cfg.Pool.MaxSessions)
	assert.True(t, cfg.Pool.RejectOnCritical)
	assert.Equal(t, 60*time.Second, cfg.Pool.SweepInterval)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sessions", func(c *Config) { c.Pool.MaxSessions = 0 }},
		{"throttle factor above one", func(c *Config) { c.Pool.ThrottleFactor = 1.5 }},
		{"fast polling", func(c *Config) { c.Telemetry.Interval = time.Millisecond }},
		{"unknown source", func(c *Config) { c.Telemetry.Source = "ipmi" }},
		{"descending thermal", func(c *Config) { c.Telemetry.Thermal.Warning = 95 }},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "tpu" }},
		{"openai without endpoint", func(c *Config) { c.Backend.Kind = "openai" }},
		{"non-positive level", func(c *Config) { c.Bench.Levels = []int{1, -2} }},
		{"zero requests", func(c *Config) { c.Bench.RequestsPerClient = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  max_sessions: 4
  throttle_factor: 0.25
telemetry:
  source: static
  interval: 500ms
  thermal:
    warning: 70
    throttle: 80
    critical: 88
backend:
  kind: fixed
bench:
  levels: [1, 3]
`), 0o644))

	t.Setenv("INFGOV_BENCH_REQUESTS_PER_CLIENT", "7")
	t.Setenv("INFGOV_SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Pool.MaxSessions)
	assert.Equal(t, 0.25, cfg.Pool.ThrottleFactor)
	assert.True(t, cfg.Pool.RejectOnCritical, "untouched keys keep defaults")
	assert.Equal(t, "static", cfg.Telemetry.Source)
	assert.Equal(t, 500*time.Millisecond, cfg.Telemetry.Interval)
	assert.Equal(t, 88.0, cfg.Telemetry.Thermal.Critical)
	assert.Equal(t, 90.0, cfg.Telemetry.Memory.Critical)
	assert.Equal(t, "fixed", cfg.Backend.Kind)
	assert.Equal(t, []int{1, 3}, cfg.Bench.Levels)
	assert.Equal(t, 7, cfg.Bench.RequestsPerClient)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestYAMLRedactsAPIKey(t *testing.T) {
	cfg := New()
	cfg.Backend.APIKey = "sk-secret"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-secret")
	assert.Equal(t, "sk-secret", cfg.Backend.APIKey)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "pool")
}
