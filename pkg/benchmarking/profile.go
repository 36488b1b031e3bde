package benchmarking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/telemetry"
)

// Memory profiler defaults.
const (
	DefaultProfileSessions = 15
	DefaultMemoryLimit     = 90.0
	DefaultSettle          = 500 * time.Millisecond
	// EstimateHeadroom is the share of device memory capacity estimates
	// allow sessions to fill.
	EstimateHeadroom = 0.85
)

// WarmupWork is sent on each new session so the backend allocates its
// per-session state before memory is measured.
var WarmupWork = dispatch.Work{Prompt: "What is the maintenance status?", MaxTokens: 100, Temperature: 0.7}

// SnapshotFunc returns a current telemetry snapshot.
type SnapshotFunc func(ctx context.Context) (telemetry.Snapshot, error)

// PollerSnapshots reads the in-process poller, polling on every call so each
// step sees memory as it is after the session was warmed.
func PollerSnapshots(p *telemetry.Poller) SnapshotFunc {
	return func(context.Context) (telemetry.Snapshot, error) {
		return p.Poll(), nil
	}
}

// ProfileOptions controls a memory profile run.
type ProfileOptions struct {
	// MaxSessions bounds how many sessions are opened.
	MaxSessions int
	// MemoryLimit stops the run once device memory exceeds this percentage.
	MemoryLimit float64
	// Settle is the pause between warming a session and measuring.
	Settle time.Duration
	Warmup dispatch.Work
	OnStep func(MemoryStep)
	Logger *zap.Logger
}

func (o *ProfileOptions) defaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultProfileSessions
	}
	if o.MemoryLimit <= 0 {
		o.MemoryLimit = DefaultMemoryLimit
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.Warmup.Prompt == "" {
		o.Warmup = WarmupWork
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// MemoryStep is device memory measured with Sessions sessions open. Memory
// is summed over every device in the snapshot.
type MemoryStep struct {
	Sessions    int
	CollectedAt time.Time
	UsedBytes   uint64
	TotalBytes  uint64
	Percent     float64
	DeltaBytes  int64
}

// ToRecord flattens the step for tabular exporters.
func (s MemoryStep) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"session_count":   int64(s.Sessions),
		"collected_at":    s.CollectedAt.UTC().Format(time.RFC3339Nano),
		"memory_used_mb":  mib(float64(s.UsedBytes)),
		"memory_total_mb": mib(float64(s.TotalBytes)),
		"memory_percent":  s.Percent,
		"memory_delta_mb": mib(float64(s.DeltaBytes)),
	}
}

// Stop reasons.
const (
	StopSessionLimit = "session limit reached"
	StopMemoryLimit  = "memory limit reached"
	StopAdmission    = "admission rejected"
	StopCancelled    = "cancelled"
)

// MemoryProfile is the outcome of ProfileMemory. Steps[0] is the baseline
// with no sessions open.
type MemoryProfile struct {
	Steps      []MemoryStep
	StopReason string
}

// PerSessionBytes is the mean of the positive step deltas, or 0 when memory
// never grew.
func (p MemoryProfile) PerSessionBytes() float64 {
	var sum float64
	var n int
	for _, s := range p.Steps[min(1, len(p.Steps)):] {
		if s.DeltaBytes > 0 {
			sum += float64(s.DeltaBytes)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// EstimateSessions predicts how many sessions fit on a device with
// totalBytes of memory, keeping EstimateHeadroom of it usable and charging
// the baseline footprint first. It returns 0 without a measured overhead.
func (p MemoryProfile) EstimateSessions(totalBytes uint64) int {
	per := p.PerSessionBytes()
	if per <= 0 || len(p.Steps) == 0 {
		return 0
	}
	free := float64(totalBytes)*EstimateHeadroom - float64(p.Steps[0].UsedBytes)
	if free <= 0 {
		return 0
	}
	return int(free / per)
}

// ProfileMemory opens sessions one at a time, warms each with a single
// dispatch and records device memory after every admission. It stops at
// MaxSessions, when admission is refused, or once memory exceeds
// MemoryLimit. Every session it opened is released before returning.
func ProfileMemory(ctx context.Context, target Target, snapshots SnapshotFunc, opts ProfileOptions) (MemoryProfile, error) {
	opts.defaults()
	logger := opts.Logger

	var profile MemoryProfile
	record := func(sessions int, snap telemetry.Snapshot) MemoryStep {
		step := memoryStep(sessions, snap)
		if n := len(profile.Steps); n > 0 {
			step.DeltaBytes = int64(step.UsedBytes) - int64(profile.Steps[n-1].UsedBytes)
		}
		profile.Steps = append(profile.Steps, step)
		if opts.OnStep != nil {
			opts.OnStep(step)
		}
		return step
	}

	baseline, err := snapshots(ctx)
	if err != nil {
		return profile, fmt.Errorf("baseline telemetry: %w", err)
	}
	if len(baseline.Readings) == 0 {
		return profile, errors.New("telemetry reported no devices")
	}
	record(0, baseline)

	var opened []string
	defer func() {
		release := context.WithoutCancel(ctx)
		for _, id := range opened {
			if err := target.ReleaseSession(release, id); err != nil {
				logger.Warn("releasing profiled session", zap.String("session_id", id), zap.Error(err))
			}
		}
	}()

	profile.StopReason = StopSessionLimit
	for i := 1; i <= opts.MaxSessions; i++ {
		if ctx.Err() != nil {
			profile.StopReason = StopCancelled
			break
		}

		id, err := target.CreateSession(ctx)
		if err != nil {
			logger.Info("session not admitted, stopping", zap.Int("sessions", i-1), zap.Error(err))
			profile.StopReason = fmt.Sprintf("%s: %v", StopAdmission, err)
			break
		}
		opened = append(opened, id)

		if sample, err := target.Dispatch(ctx, id, opts.Warmup); err != nil || !sample.Success {
			logger.Warn("warmup request failed", zap.String("session_id", id), zap.Error(err), zap.String("sample_error", sample.Err))
		}
		if err := sleep(ctx, opts.Settle); err != nil {
			profile.StopReason = StopCancelled
			break
		}

		snap, err := snapshots(ctx)
		if err != nil {
			return profile, fmt.Errorf("telemetry after %d sessions: %w", i, err)
		}
		step := record(i, snap)
		logger.Debug("memory step",
			zap.Int("sessions", i),
			zap.Uint64("used_bytes", step.UsedBytes),
			zap.Float64("percent", step.Percent),
			zap.Int64("delta_bytes", step.DeltaBytes),
		)

		if step.Percent > opts.MemoryLimit {
			profile.StopReason = StopMemoryLimit
			break
		}
	}
	return profile, nil
}

func memoryStep(sessions int, snap telemetry.Snapshot) MemoryStep {
	step := MemoryStep{Sessions: sessions, CollectedAt: snap.CollectedAt}
	for _, r := range snap.Readings {
		step.UsedBytes += r.MemoryUsedBytes
		step.TotalBytes += r.MemoryTotalBytes
	}
	if step.TotalBytes > 0 {
		step.Percent = float64(step.UsedBytes) / float64(step.TotalBytes) * 100
	}
	return step
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func mib(b float64) float64 { return b / (1 << 20) }
