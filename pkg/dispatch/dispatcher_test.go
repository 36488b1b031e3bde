package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferenceGovernor/pkg/sessions"
)

type sampleLog struct {
	mu      sync.Mutex
	samples []Sample
}

func (l *sampleLog) ObserveSample(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func fixed(ttft, total time.Duration, units int) WorkExecutor {
	return ExecutorFunc(func(context.Context, Work) (Outcome, error) {
		return Outcome{TTFT: ttft, Total: total, Units: units, Text: "ok"}, nil
	})
}

func TestDispatchUnknownSession(t *testing.T) {
	t.Parallel()
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1})
	d := NewDispatcher(pool, fixed(time.Millisecond, time.Millisecond, 1), nil, nil)

	_, err := d.Dispatch(context.Background(), "missing", Work{Prompt: "hi"})
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestDispatchSuccessTouchesOnce(t *testing.T) {
	t.Parallel()
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	log := &sampleLog{}
	d := NewDispatcher(pool, fixed(10*time.Millisecond, 100*time.Millisecond, 50), log, nil)

	sample, err := d.Dispatch(context.Background(), s.ID, Work{Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, sample.Success)
	assert.Equal(t, 10.0, sample.TTFTMillis())
	assert.Equal(t, 100.0, sample.TotalMillis())
	assert.InDelta(t, 500.0, sample.Throughput, 1e-9)

	got, err := pool.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RequestCount)
	assert.Equal(t, 50, got.TotalUnits)
	assert.InDelta(t, 100.0, got.AvgLatencyMs, 1e-9)
	assert.Len(t, log.samples, 1)
}

func TestDispatchExecutorFailure(t *testing.T) {
	t.Parallel()
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	failing := ExecutorFunc(func(context.Context, Work) (Outcome, error) {
		return Outcome{}, errors.New("backend exploded")
	})
	d := NewDispatcher(pool, failing, nil, nil)

	sample, err := d.Dispatch(context.Background(), s.ID, Work{})
	require.NoError(t, err)
	assert.False(t, sample.Success)
	assert.Contains(t, sample.Err, "work execution failed")
	assert.Contains(t, sample.Err, "backend exploded")

	got, err := pool.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RequestCount, "failed work is not booked against the session")
}

func TestDispatchRecoversPanic(t *testing.T) {
	t.Parallel()
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	d := NewDispatcher(pool, ExecutorFunc(func(context.Context, Work) (Outcome, error) {
		panic("boom")
	}), nil, nil)

	sample, err := d.Dispatch(context.Background(), s.ID, Work{})
	require.NoError(t, err)
	assert.False(t, sample.Success)
	assert.Contains(t, sample.Err, "boom")
}

func TestThroughputGuardsZeroDuration(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Throughput(50, 0))
	assert.Equal(t, 0.0, Throughput(50, -time.Second))
	assert.Equal(t, 25.0, Throughput(50, 2*time.Second))
}

func TestDispatchZeroDuration(t *testing.T) {
	t.Parallel()
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	d := NewDispatcher(pool, fixed(0, 0, 10), nil, nil)
	sample, err := d.Dispatch(context.Background(), s.ID, Work{})
	require.NoError(t, err)
	assert.True(t, sample.Success)
	assert.Equal(t, 0.0, sample.Throughput)
}
