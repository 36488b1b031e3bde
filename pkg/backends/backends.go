// Package backends provides the WorkExecutor implementations selectable by
// configuration: a load-aware simulator, a deterministic fixed executor and
// a client for OpenAI-compatible servers.
package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"InferenceGovernor/pkg/dispatch"
)

// Backend kinds.
const (
	KindSimulated = "simulated"
	KindFixed     = "fixed"
	KindOpenAI    = "openai"
)

// ValidKinds returns the supported backend kinds.
func ValidKinds() []string {
	return []string{KindSimulated, KindFixed, KindOpenAI}
}

// Config selects and parameterizes a backend.
type Config struct {
	Kind  string `mapstructure:"kind" yaml:"kind" json:"kind"`
	Model string `mapstructure:"model" yaml:"model" json:"model"`

	// simulated
	BaseLatency  time.Duration `mapstructure:"base_latency" yaml:"base_latency" json:"base_latency"`
	TokenLatency time.Duration `mapstructure:"token_latency" yaml:"token_latency" json:"token_latency"`

	// fixed
	FixedTTFT  time.Duration `mapstructure:"fixed_ttft" yaml:"fixed_ttft" json:"fixed_ttft"`
	FixedTotal time.Duration `mapstructure:"fixed_total" yaml:"fixed_total" json:"fixed_total"`
	FixedUnits int           `mapstructure:"fixed_units" yaml:"fixed_units" json:"fixed_units"`
	FixedSleep bool          `mapstructure:"fixed_sleep" yaml:"fixed_sleep" json:"fixed_sleep"`

	// openai
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// LoadFunc reports the number of active sessions for load-scaled latency.
type LoadFunc func() int

// New builds the executor named by cfg.Kind. load may be nil.
func New(cfg Config, load LoadFunc) (dispatch.WorkExecutor, error) {
	switch strings.ToLower(cfg.Kind) {
	case KindSimulated, "":
		return NewSimulated(cfg.BaseLatency, cfg.TokenLatency, load), nil
	case KindFixed:
		return &Fixed{
			TTFT:  cfg.FixedTTFT,
			Total: cfg.FixedTotal,
			Units: cfg.FixedUnits,
			Sleep: cfg.FixedSleep,
		}, nil
	case KindOpenAI:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("openai backend requires an endpoint")
		}
		return NewOpenAI(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s (valid: %s)", cfg.Kind, strings.Join(ValidKinds(), ", "))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
