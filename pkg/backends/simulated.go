package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"InferenceGovernor/pkg/dispatch"
)

// Simulated stands in for a model: a base latency before the first token,
// then a fixed cost per token, both stretched by 10% per active session.
type Simulated struct {
	base     time.Duration
	perToken time.Duration
	load     LoadFunc
}

// Simulator defaults.
const (
	DefaultBaseLatency  = 50 * time.Millisecond
	DefaultTokenLatency = 10 * time.Millisecond
	DefaultMaxTokens    = 512
)

// NewSimulated creates a simulator. Zero latencies take the defaults.
func NewSimulated(base, perToken time.Duration, load LoadFunc) *Simulated {
	if base <= 0 {
		base = DefaultBaseLatency
	}
	if perToken <= 0 {
		perToken = DefaultTokenLatency
	}
	return &Simulated{base: base, perToken: perToken, load: load}
}

// LoadFactor returns the latency multiplier for the current load.
func (s *Simulated) LoadFactor() float64 {
	if s.load == nil {
		return 1
	}
	return 1 + 0.1*float64(s.load())
}

// OutputTokens returns the simulated response length: the prompt's word
// count plus 50, capped at maxTokens.
func OutputTokens(prompt string, maxTokens int) int {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return min(maxTokens, len(strings.Fields(prompt))+50)
}

func (s *Simulated) Execute(ctx context.Context, work dispatch.Work) (dispatch.Outcome, error) {
	factor := s.LoadFactor()
	tokens := OutputTokens(work.Prompt, work.MaxTokens)

	start := time.Now()
	if err := sleep(ctx, time.Duration(float64(s.base)*factor)); err != nil {
		return dispatch.Outcome{}, err
	}
	ttft := time.Since(start)

	if err := sleep(ctx, time.Duration(float64(s.perToken)*float64(tokens)*factor)); err != nil {
		return dispatch.Outcome{}, err
	}

	return dispatch.Outcome{
		TTFT:  ttft,
		Total: time.Since(start),
		Units: tokens,
		Text:  fmt.Sprintf("[simulated] response for: %s", truncate(work.Prompt, 100)),
	}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
