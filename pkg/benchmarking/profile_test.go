package benchmarking

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/telemetry"
)

// growingDevice is a one-device source whose used memory rises by step on
// every dispatch.
type growingDevice struct {
	src  *telemetry.StaticSource
	used atomic.Uint64
	step uint64
}

func newGrowingDevice(baseline, step uint64) *growingDevice {
	d := &growingDevice{src: telemetry.NewStaticSource(), step: step}
	d.used.Store(baseline)
	d.publish()
	return d
}

func (d *growingDevice) publish() {
	d.src.Set(telemetry.Reading{Device: 0, MemoryUsedBytes: d.used.Load(), MemoryTotalBytes: 1000})
}

func (d *growingDevice) Execute(context.Context, dispatch.Work) (dispatch.Outcome, error) {
	d.used.Add(d.step)
	d.publish()
	return dispatch.Outcome{Units: 1}, nil
}

func (d *growingDevice) snapshots() SnapshotFunc {
	return PollerSnapshots(telemetry.NewPoller(d.src, telemetry.PollerConfig{}, nil))
}

func TestProfileStopsAtMemoryLimit(t *testing.T) {
	dev := newGrowingDevice(100, 100)
	target := newLocalTarget(10, dev)

	var seen []int
	profile, err := ProfileMemory(context.Background(), target, dev.snapshots(), ProfileOptions{
		MemoryLimit: 50,
		OnStep:      func(s MemoryStep) { seen = append(seen, s.Sessions) },
	})
	require.NoError(t, err)

	assert.Equal(t, StopMemoryLimit, profile.StopReason)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
	require.Len(t, profile.Steps, 6)
	assert.Equal(t, uint64(100), profile.Steps[0].UsedBytes)
	assert.Zero(t, profile.Steps[0].DeltaBytes)
	assert.Equal(t, int64(100), profile.Steps[3].DeltaBytes)
	assert.InDelta(t, 60.0, profile.Steps[5].Percent, 1e-9)

	assert.Equal(t, 100.0, profile.PerSessionBytes())
	assert.Equal(t, 7, profile.EstimateSessions(1000))
	assert.Zero(t, target.Pool.Count(), "profiled sessions must be released")
}

func TestProfileStopsWhenAdmissionRefused(t *testing.T) {
	dev := newGrowingDevice(0, 10)
	target := newLocalTarget(2, dev)

	profile, err := ProfileMemory(context.Background(), target, dev.snapshots(), ProfileOptions{MaxSessions: 5})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(profile.StopReason, StopAdmission), profile.StopReason)
	assert.Len(t, profile.Steps, 3)
	assert.Zero(t, target.Pool.Count())
}

func TestProfileSessionLimit(t *testing.T) {
	dev := newGrowingDevice(0, 0)
	target := newLocalTarget(10, dev)

	profile, err := ProfileMemory(context.Background(), target, dev.snapshots(), ProfileOptions{MaxSessions: 3})
	require.NoError(t, err)

	assert.Equal(t, StopSessionLimit, profile.StopReason)
	assert.Len(t, profile.Steps, 4)
	assert.Zero(t, profile.PerSessionBytes())
	assert.Zero(t, profile.EstimateSessions(1000))
}

func TestProfileRequiresTelemetry(t *testing.T) {
	target := newLocalTarget(1, dispatch.ExecutorFunc(func(context.Context, dispatch.Work) (dispatch.Outcome, error) {
		return dispatch.Outcome{}, nil
	}))

	failing := func(context.Context) (telemetry.Snapshot, error) { return telemetry.Snapshot{}, errors.New("no driver") }
	_, err := ProfileMemory(context.Background(), target, failing, ProfileOptions{})
	assert.ErrorContains(t, err, "no driver")

	empty := PollerSnapshots(telemetry.NewPoller(telemetry.NewStaticSource(), telemetry.PollerConfig{}, nil))
	_, err = ProfileMemory(context.Background(), target, empty, ProfileOptions{})
	assert.Error(t, err)
}
