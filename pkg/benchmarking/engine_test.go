package benchmarking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferenceGovernor/pkg/backends"
	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

func newLocalTarget(capacity int, exec dispatch.WorkExecutor, opts ...sessions.Option) *LocalTarget {
	pool := sessions.NewPool(sessions.Config{MaxSessions: capacity, RejectOnCritical: true}, opts...)
	return &LocalTarget{Pool: pool, Dispatcher: dispatch.NewDispatcher(pool, exec, nil, nil)}
}

func TestRunDeterministicLevels(t *testing.T) {
	exec := &backends.Fixed{TTFT: 10 * time.Millisecond, Total: 100 * time.Millisecond, Units: 50}
	target := newLocalTarget(10, exec)

	var seen []int
	engine := NewEngine(target, Options{OnLevel: func(r Result) { seen = append(seen, r.Concurrency) }})

	results, err := engine.Run(context.Background(), []int{1, 2}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []int{1, 2}, seen)

	l1 := results[0]
	assert.Equal(t, 1, l1.Concurrency)
	assert.Equal(t, 3, l1.SuccessfulRequests)
	assert.Equal(t, 3, l1.TotalRequests)
	assert.Equal(t, 0, l1.FailedRequests)
	assert.InDelta(t, 10.0, l1.TTFTP50Ms, 1e-9)
	assert.InDelta(t, 100.0, l1.LatencyP99Ms, 1e-9)
	assert.InDelta(t, 500.0, l1.TokensPerSecondMean, 1e-9)
	assert.Equal(t, 150, l1.TotalUnits)
	assert.Greater(t, l1.TestDurationSec, 0.0)
	assert.Greater(t, l1.TotalThroughput, 0.0)

	l2 := results[1]
	assert.Equal(t, 2, l2.Concurrency)
	assert.Equal(t, 6, l2.SuccessfulRequests)
	assert.Equal(t, 0, l2.RejectedClients)

	assert.Equal(t, 0, target.Pool.Count(), "every client releases its session")
}

// gatedTarget holds every dispatch until all clients of the level have
// attempted admission, so rejections do not depend on scheduling.
type gatedTarget struct {
	*LocalTarget
	attempts sync.WaitGroup
}

func (g *gatedTarget) CreateSession(ctx context.Context) (string, error) {
	defer g.attempts.Done()
	return g.LocalTarget.CreateSession(ctx)
}

func (g *gatedTarget) Dispatch(ctx context.Context, id string, work dispatch.Work) (dispatch.Sample, error) {
	g.attempts.Wait()
	return g.LocalTarget.Dispatch(ctx, id, work)
}

func TestRejectedClientsContributeNoSamples(t *testing.T) {
	exec := &backends.Fixed{TTFT: time.Millisecond, Total: 2 * time.Millisecond, Units: 4}
	target := &gatedTarget{LocalTarget: newLocalTarget(1, exec)}
	target.attempts.Add(3)

	res := NewEngine(target, Options{}).RunLevel(context.Background(), 3, 2, PromptCycle(nil, 32, 0.7))

	assert.Equal(t, 2, res.SuccessfulRequests)
	assert.Equal(t, 2, res.TotalRequests)
	assert.Equal(t, 0, res.FailedRequests)
	assert.Equal(t, 2, res.RejectedClients)
	assert.Equal(t, 2, res.RejectedCapacity)
	assert.Equal(t, 0, res.RejectedThermal)
}

func TestThermalRejectionsTallied(t *testing.T) {
	src := telemetry.NewStaticSource(telemetry.Reading{TemperatureC: 95})
	poller := telemetry.NewPoller(src, telemetry.PollerConfig{
		Thermal: telemetry.Thresholds{Warning: 75, Throttle: 83, Critical: 90},
		Memory:  telemetry.Thresholds{Warning: 80, Throttle: 85, Critical: 90},
	}, nil)
	poller.Poll()

	target := newLocalTarget(4, &backends.Fixed{Units: 1}, sessions.WithState(poller))
	res := NewEngine(target, Options{}).RunLevel(context.Background(), 2, 3, nil)

	assert.Equal(t, 0, res.TotalRequests)
	assert.Equal(t, 2, res.RejectedThermal)
	assert.Equal(t, 0.0, res.TTFTP50Ms)
	assert.Equal(t, 0.0, res.TokensPerSecondMean)
}

func TestFailedDispatchesCountedSeparately(t *testing.T) {
	var calls atomic.Int32
	exec := dispatch.ExecutorFunc(func(context.Context, dispatch.Work) (dispatch.Outcome, error) {
		if calls.Add(1)%2 == 0 {
			return dispatch.Outcome{}, errors.New("overloaded")
		}
		return dispatch.Outcome{TTFT: time.Millisecond, Total: 10 * time.Millisecond, Units: 5}, nil
	})

	res := NewEngine(newLocalTarget(2, exec), Options{}).RunLevel(context.Background(), 1, 4, nil)
	assert.Equal(t, 4, res.TotalRequests)
	assert.Equal(t, 2, res.SuccessfulRequests)
	assert.Equal(t, 2, res.FailedRequests)
	assert.Equal(t, 0, res.RejectedClients)
	assert.InDelta(t, 0.5, res.SuccessRate(), 1e-9)
}

func TestRunLevelDefaultsNilFactory(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	exec := dispatch.ExecutorFunc(func(_ context.Context, w dispatch.Work) (dispatch.Outcome, error) {
		mu.Lock()
		prompts = append(prompts, w.Prompt)
		mu.Unlock()
		return dispatch.Outcome{TTFT: time.Millisecond, Total: 2 * time.Millisecond, Units: 1}, nil
	})

	res := NewEngine(newLocalTarget(1, exec), Options{}).RunLevel(context.Background(), 1, 2, nil)
	assert.Equal(t, 2, res.SuccessfulRequests)
	require.Len(t, prompts, 2)
	assert.Equal(t, DefaultPrompts[0], prompts[0])
	assert.Equal(t, DefaultPrompts[1], prompts[1])
}

func TestAllFailedReportsZeros(t *testing.T) {
	exec := &backends.Fixed{Err: errors.New("down")}
	res := NewEngine(newLocalTarget(2, exec), Options{}).RunLevel(context.Background(), 2, 2, nil)

	assert.Equal(t, 4, res.TotalRequests)
	assert.Equal(t, 0, res.SuccessfulRequests)
	assert.Equal(t, 0.0, res.LatencyP50Ms)
	assert.Equal(t, 0.0, res.TTFTP99Ms)
	assert.Equal(t, 0.0, res.TotalThroughput)
}

func TestLevelTimeoutAbandonsInFlight(t *testing.T) {
	exec := &backends.Fixed{TTFT: time.Millisecond, Total: time.Minute, Units: 1, Sleep: true}
	target := newLocalTarget(4, exec)
	engine := NewEngine(target, Options{LevelTimeout: 20 * time.Millisecond})

	results, err := engine.Run(context.Background(), []int{2, 1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "a timed-out level does not stop later levels")

	for _, res := range results {
		assert.True(t, res.Cancelled)
		assert.Equal(t, 0, res.TotalRequests)
		assert.Less(t, res.TestDurationSec, 5.0)
	}
	assert.Equal(t, 0, target.Pool.Count(), "sessions are released after cancellation")
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &backends.Fixed{Units: 1}

	engine := NewEngine(newLocalTarget(4, exec), Options{OnLevel: func(Result) { cancel() }})
	results, err := engine.Run(ctx, []int{1, 2, 4}, 1, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
}

func TestRunValidatesArguments(t *testing.T) {
	engine := NewEngine(newLocalTarget(1, &backends.Fixed{}), Options{})
	_, err := engine.Run(context.Background(), nil, 1, nil)
	assert.Error(t, err)
	_, err = engine.Run(context.Background(), []int{1, 0}, 1, nil)
	assert.Error(t, err)
	_, err = engine.Run(context.Background(), []int{1}, 0, nil)
	assert.Error(t, err)
}

func TestResultRecordRoundTrip(t *testing.T) {
	in := Result{Concurrency: 4, TotalRequests: 20, SuccessfulRequests: 19, FailedRequests: 1,
		TTFTP50Ms: 12.5, LatencyP99Ms: 340, TokensPerSecondMean: 48.2, TotalUnits: 950, Cancelled: true}
	out, err := FromRecord(in.ToRecord())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = FromRecord(map[string]interface{}{"ttft_p50_ms": 1.0})
	assert.Error(t, err)
}

func TestPromptCycle(t *testing.T) {
	f := PromptCycle([]string{"a", "b", "c"}, 64, 0.2)
	assert.Equal(t, "a", f(0, 0).Prompt)
	assert.Equal(t, "c", f(1, 1).Prompt)
	assert.Equal(t, "a", f(2, 1).Prompt)
	assert.Equal(t, 64, f(0, 0).MaxTokens)
}
