package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(src Source) *Poller {
	return NewPoller(src, PollerConfig{
		Interval: 10 * time.Millisecond,
		Thermal:  testThermal,
		Memory:   testMemory,
	}, nil)
}

func TestPollerSampleOmitsFailedDevice(t *testing.T) {
	src := NewStaticSource(
		Reading{Device: 0, TemperatureC: 50},
		Reading{Device: 1, TemperatureC: 95},
		Reading{Device: 2, TemperatureC: 60},
	)
	src.Fail(1, errors.New("device lost"))

	p := newTestPoller(src)
	readings := p.Sample()

	require.Len(t, readings, 2)
	assert.Equal(t, 0, readings[0].Device)
	assert.Equal(t, 2, readings[1].Device)
}

func TestPollerPublishesLatest(t *testing.T) {
	src := NewStaticSource(Reading{Device: 0, TemperatureC: 50, MemoryUsedBytes: 1, MemoryTotalBytes: 10})
	p := newTestPoller(src)

	_, ok := p.Latest()
	assert.False(t, ok)
	assert.Equal(t, StateUnknown, p.State())

	snap := p.Poll()
	assert.Equal(t, StateNormal, snap.Effective)
	assert.Equal(t, "static", snap.Source)

	src.Set(Reading{Device: 0, TemperatureC: 91})
	assert.Equal(t, StateNormal, p.State(), "state must not change until the next poll")

	p.Poll()
	assert.Equal(t, StateCritical, p.State())
}

func TestPollerListeners(t *testing.T) {
	p := newTestPoller(NewStaticSource(Reading{TemperatureC: 84}))

	var got atomic.Value
	p.OnSnapshot(func(s Snapshot) { got.Store(s) })
	p.Poll()

	snap, ok := got.Load().(Snapshot)
	require.True(t, ok)
	assert.Equal(t, StateThrottling, snap.Thermal)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	p := newTestPoller(NewStaticSource(Reading{TemperatureC: 30}))

	var polls atomic.Int32
	p.OnSnapshot(func(Snapshot) { polls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return polls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestNilPollerIsUnknown(t *testing.T) {
	var p *Poller
	assert.Equal(t, StateUnknown, p.State())
}

func TestHostSourceReadsProcfs(t *testing.T) {
	dir := t.TempDir()
	meminfo := filepath.Join(dir, "meminfo")
	require.NoError(t, os.WriteFile(meminfo, []byte("MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n"), 0o644))

	for i, milli := range []string{"45000\n", "71500\n"} {
		zone := filepath.Join(dir, "thermal_zone"+string(rune('0'+i)))
		require.NoError(t, os.MkdirAll(zone, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(zone, "temp"), []byte(milli), 0o644))
	}

	src, err := NewHostSource(HostPaths{
		Meminfo:     meminfo,
		ThermalGlob: filepath.Join(dir, "thermal_zone*", "temp"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, src.DeviceCount())

	r, err := src.ReadDevice(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000*1024), r.MemoryTotalBytes)
	assert.Equal(t, uint64(750*1024), r.MemoryUsedBytes)
	assert.InDelta(t, 71.5, r.TemperatureC, 1e-9)
	assert.InDelta(t, 75.0, r.MemoryPercent(), 1e-9)

	_, err = src.ReadDevice(1)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	_, err := Open("thermocouple", nil)
	assert.Error(t, err)

	_, err = Open(SourceNone, nil)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	src, err := Open(SourceStatic, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())
}

func TestSnapshotToRecords(t *testing.T) {
	src := NewStaticSource(
		Reading{Device: 0, Name: "gpu0", TemperatureC: 85, MemoryUsedBytes: 5, MemoryTotalBytes: 10},
		Reading{Device: 1, Name: "gpu1", TemperatureC: 40},
	)
	snap := newTestPoller(src).Poll()

	rows := snap.ToRecords()
	require.Len(t, rows, 2)
	assert.Equal(t, "static", rows[0]["source"])
	assert.Equal(t, int64(0), rows[0]["device"])
	assert.Equal(t, 50.0, rows[0]["memory_percent"])
	assert.Equal(t, snap.Effective.String(), rows[1]["effective_state"])
	assert.Equal(t, "gpu1", rows[1]["name"])
}
