package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferenceGovernor/pkg/telemetry"
)

type fixedState telemetry.State

func (f fixedState) State() telemetry.State { return telemetry.State(f) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	active     int
	capacity   int
	rejections map[Reason]int
}

func (o *recordingObserver) SessionsChanged(active, capacity int) {
	o.active, o.capacity = active, capacity
}

func (o *recordingObserver) AdmissionRejected(reason Reason) {
	if o.rejections == nil {
		o.rejections = make(map[Reason]int)
	}
	o.rejections[reason]++
}

func TestCreateBeyondCapacity(t *testing.T) {
	t.Parallel()
	const capacity = 4
	pool := NewPool(Config{MaxSessions: capacity, RejectOnCritical: true})

	successes, rejections := 0, 0
	for i := 0; i < capacity+1; i++ {
		_, err := pool.Create()
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCapacityExceeded):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, capacity, successes)
	assert.Equal(t, 1, rejections)
	assert.Equal(t, capacity, pool.Count())
}

func TestReleaseFreesSlot(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 2})

	a, err := pool.Create()
	require.NoError(t, err)
	_, err = pool.Create()
	require.NoError(t, err)
	assert.LessOrEqual(t, pool.Count(), 2)

	pool.Release(a.ID)
	assert.Equal(t, 1, pool.Count())

	_, err = pool.Create()
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Count())

	_, err = pool.Create()
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, pool.Count())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	pool.Release(s.ID)
	pool.Release(s.ID)
	pool.Release("never-issued")

	_, err = pool.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, pool.Touch(s.ID, 1, 1), ErrSessionNotFound)
}

func TestTouchIncrementalMean(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	latencies := []float64{120, 80, 95.5, 301, 42, 250}
	var sum float64
	for _, l := range latencies {
		require.NoError(t, pool.Touch(s.ID, 10, l))
		sum += l
	}

	got, err := pool.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, len(latencies), got.RequestCount)
	assert.Equal(t, 10*len(latencies), got.TotalUnits)
	assert.InDelta(t, sum/float64(len(latencies)), got.AvgLatencyMs, 1e-9)
}

func TestTouchConcurrent(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 1})
	s, err := pool.Create()
	require.NoError(t, err)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = pool.Touch(s.ID, 1, 100)
			}
		}()
	}
	wg.Wait()

	got, err := pool.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, got.RequestCount)
	assert.InDelta(t, 100, got.AvgLatencyMs, 1e-9)
}

func TestConcurrentCreateAgainstCapacity(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 3, RejectOnCritical: true}, WithState(fixedState(telemetry.StateNormal)))

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		rejections int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Create()
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if reason, ok := RejectionReason(err); ok && reason == ReasonCapacityExceeded {
				rejections++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, 2, rejections)
	assert.Equal(t, 3, pool.Count())
}

func TestAdmissionUnderDeviceState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		state            telemetry.State
		rejectOnCritical bool
		wantCapacity     int
		wantReason       Reason
	}{
		{"unknown admits as normal", telemetry.StateUnknown, true, 10, ""},
		{"normal", telemetry.StateNormal, true, 10, ""},
		{"warning keeps capacity", telemetry.StateWarning, true, 10, ""},
		{"throttling halves", telemetry.StateThrottling, true, 5, ""},
		{"critical rejects", telemetry.StateCritical, true, 10, ReasonThermalCritical},
		{"critical without reject throttles", telemetry.StateCritical, false, 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			pool := NewPool(Config{MaxSessions: 10, ThrottleFactor: 0.5, RejectOnCritical: tt.rejectOnCritical},
				WithState(fixedState(tt.state)), WithObserver(obs))

			assert.Equal(t, tt.wantCapacity, pool.EffectiveCapacity())

			_, err := pool.Create()
			if tt.wantReason != "" {
				reason, ok := RejectionReason(err)
				require.True(t, ok, "expected admission error, got %v", err)
				assert.Equal(t, tt.wantReason, reason)
				assert.ErrorIs(t, err, ErrThermalCritical)
				assert.Equal(t, 1, obs.rejections[tt.wantReason])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, obs.active)
			assert.Equal(t, tt.wantCapacity, obs.capacity)
		})
	}
}

func TestThrottlingNeverEvicts(t *testing.T) {
	t.Parallel()
	state := &switchableState{s: telemetry.StateNormal}
	pool := NewPool(Config{MaxSessions: 4, ThrottleFactor: 0.5}, WithState(state))

	for i := 0; i < 4; i++ {
		_, err := pool.Create()
		require.NoError(t, err)
	}

	state.set(telemetry.StateThrottling)
	assert.Equal(t, 2, pool.EffectiveCapacity())
	assert.Equal(t, 4, pool.Count(), "existing sessions stay")

	_, err := pool.Create()
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	sessions := pool.List()
	pool.Release(sessions[0].ID)
	pool.Release(sessions[1].ID)
	_, err = pool.Create()
	assert.ErrorIs(t, err, ErrCapacityExceeded, "2 active against a throttled ceiling of 2")

	pool.Release(sessions[2].ID)
	_, err = pool.Create()
	assert.NoError(t, err)
}

func TestThrottledCapacityFloor(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 1, ThrottleFactor: 0.1}, WithState(fixedState(telemetry.StateThrottling)))
	assert.Equal(t, 1, pool.EffectiveCapacity())
}

func TestSweepRemovesIdle(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	pool := NewPool(Config{MaxSessions: 5}, WithClock(clock.Now))

	stale, err := pool.Create()
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)

	fresh, err := pool.Create()
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	require.NoError(t, pool.Touch(fresh.ID, 1, 10))

	assert.Equal(t, PhaseIdle, mustGet(t, pool, stale.ID).Phase(clock.Now(), 5*time.Minute))
	assert.Equal(t, PhaseActive, mustGet(t, pool, fresh.ID).Phase(clock.Now(), 5*time.Minute))

	removed := pool.Sweep(5 * time.Minute)
	assert.Equal(t, 1, removed)

	_, err = pool.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = pool.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestJanitorSweepsUntilCancelled(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	pool := NewPool(Config{MaxSessions: 5}, WithClock(clock.Now))

	_, err := pool.Create()
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Janitor(ctx, 5*time.Millisecond, time.Minute) }()

	require.Eventually(t, func() bool { return pool.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestSessionPhase(t *testing.T) {
	t.Parallel()
	now := time.Now()
	s := Session{CreatedAt: now, LastActivity: now}
	assert.Equal(t, PhaseCreated, s.Phase(now, time.Minute))

	s.record(5, 10, now)
	assert.Equal(t, PhaseActive, s.Phase(now.Add(30*time.Second), time.Minute))
	assert.Equal(t, PhaseIdle, s.Phase(now.Add(2*time.Minute), time.Minute))
}

func TestUniqueIDs(t *testing.T) {
	t.Parallel()
	ids := []string{"dup", "dup", "dup", "other"}
	next := 0
	pool := NewPool(Config{MaxSessions: 3}, WithIDGenerator(func() string {
		id := ids[next%len(ids)]
		next++
		return id
	}))

	a, err := pool.Create()
	require.NoError(t, err)
	b, err := pool.Create()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDefaultIDsAreLongEnough(t *testing.T) {
	t.Parallel()
	pool := NewPool(Config{MaxSessions: 50})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := pool.Create()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(s.ID), 8)
		assert.False(t, seen[s.ID], fmt.Sprintf("duplicate id %s", s.ID))
		seen[s.ID] = true
	}
}

func mustGet(t *testing.T, pool *Pool, id string) Session {
	t.Helper()
	s, err := pool.Get(id)
	require.NoError(t, err)
	return s
}

type switchableState struct {
	mu sync.Mutex
	s  telemetry.State
}

func (s *switchableState) State() telemetry.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *switchableState) set(state telemetry.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s = state
}
