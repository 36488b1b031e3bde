package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

func TestObserveSample(t *testing.T) {
	m := New("test-model")
	m.ObserveSample(dispatch.Sample{Success: true, TTFT: 20 * time.Millisecond, Total: time.Second, Throughput: 40})
	m.ObserveSample(dispatch.Sample{Success: true, TTFT: 30 * time.Millisecond, Total: time.Second, Throughput: 60})
	m.ObserveSample(dispatch.Sample{Success: false, Err: "boom"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ttft))
}

func TestPoolObserver(t *testing.T) {
	m := New("test-model")
	pool := sessions.NewPool(sessions.Config{MaxSessions: 1}, sessions.WithObserver(m))

	_, err := pool.Create()
	require.NoError(t, err)
	_, err = pool.Create()
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.effectiveCapacity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues(string(sessions.ReasonCapacityExceeded))))
}

func TestObserveSnapshot(t *testing.T) {
	m := New("test-model")
	m.ObserveSnapshot(telemetry.Snapshot{
		Readings: []telemetry.Reading{
			{Device: 0, MemoryUsedBytes: 4 << 30, MemoryTotalBytes: 16 << 30, UtilizationPercent: 55, TemperatureC: 71, PowerW: 120.5},
			{Device: 1, TemperatureC: 64},
		},
		Effective: telemetry.StateWarning,
	})

	assert.Equal(t, float64(4<<30), testutil.ToFloat64(m.gpuMemoryUsed.WithLabelValues("0")))
	assert.Equal(t, 71.0, testutil.ToFloat64(m.gpuTemperature.WithLabelValues("0")))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.gpuTemperature.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissionState))
}

func TestCapacityFollowsDeviceState(t *testing.T) {
	m := New("test-model")
	src := telemetry.NewStaticSource(telemetry.Reading{Device: 0, TemperatureC: 50, MemoryTotalBytes: 100})
	poller := telemetry.NewPoller(src, telemetry.PollerConfig{
		Thermal: telemetry.Thresholds{Warning: 70, Throttle: 80, Critical: 90},
		Memory:  telemetry.Thresholds{Warning: 70, Throttle: 80, Critical: 90},
	}, nil)
	pool := sessions.NewPool(sessions.Config{MaxSessions: 10, ThrottleFactor: 0.5},
		sessions.WithState(poller), sessions.WithObserver(m))
	poller.OnSnapshot(func(telemetry.Snapshot) { m.CapacityChanged(pool.EffectiveCapacity()) })

	poller.Poll()
	assert.Equal(t, 10.0, testutil.ToFloat64(m.effectiveCapacity))

	src.Set(telemetry.Reading{Device: 0, TemperatureC: 85, MemoryTotalBytes: 100})
	poller.Poll()
	assert.Equal(t, 5.0, testutil.ToFloat64(m.effectiveCapacity))
}

func TestHandlerExposesFamilies(t *testing.T) {
	m := New("test-model")
	m.SessionsChanged(3, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "forge_active_sessions 3")
	assert.Contains(t, string(body), "forge_effective_capacity 10")
	assert.Contains(t, string(body), "go_goroutines")
}
