package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used when PollerConfig.Interval is unset.
const DefaultPollInterval = 2 * time.Second

// PollerConfig controls polling cadence and classification.
type PollerConfig struct {
	Interval time.Duration
	Thermal  Thresholds
	Memory   Thresholds
}

// Poller samples a Source on a fixed interval and publishes the latest
// Snapshot. Readers never block on or trigger a poll.
type Poller struct {
	source Source
	cfg    PollerConfig
	logger *zap.Logger
	now    func() time.Time

	latest atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(Snapshot)
}

// NewPoller creates a poller over source. The first snapshot is produced by
// Poll or by Run's initial tick.
func NewPoller(source Source, cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source: source,
		cfg:    cfg,
		logger: logger.With(zap.String("source", source.Name())),
		now:    time.Now,
	}
}

// OnSnapshot registers fn to be called after every completed poll. fn runs
// on the polling goroutine and must not block.
func (p *Poller) OnSnapshot(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Sample reads every device once. Devices that fail to read are logged and
// omitted; a failure never aborts the poll.
func (p *Poller) Sample() []Reading {
	n := p.source.DeviceCount()
	readings := make([]Reading, 0, n)
	for i := 0; i < n; i++ {
		r, err := p.source.ReadDevice(i)
		if err != nil {
			p.logger.Warn("telemetry device read failed", zap.Int("device", i), zap.Error(err))
			continue
		}
		readings = append(readings, r)
	}
	return readings
}

// Poll samples the source, classifies the readings and publishes the result.
func (p *Poller) Poll() Snapshot {
	readings := p.Sample()
	thermal, memory, effective := Evaluate(readings, p.cfg.Thermal, p.cfg.Memory)

	snap := Snapshot{
		Source:         p.source.Name(),
		CollectedAt:    p.now(),
		Readings:       readings,
		Thermal:        thermal,
		Memory:         memory,
		Effective:      effective,
		Recommendation: Recommend(thermal, memory),
	}

	prev := p.latest.Swap(&snap)
	if prev == nil || prev.Effective != snap.Effective {
		p.logger.Info("telemetry state changed",
			zap.Stringer("thermal", thermal),
			zap.Stringer("memory", memory),
			zap.Stringer("effective", effective),
		)
	}

	p.mu.Lock()
	listeners := append([]func(Snapshot){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}

	return snap
}

// Run polls immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.Poll()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Latest returns the most recently completed snapshot.
func (p *Poller) Latest() (Snapshot, bool) {
	if p == nil {
		return Snapshot{}, false
	}
	snap := p.latest.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// State returns the effective state of the latest snapshot, or StateUnknown
// when nothing has been polled yet. A nil Poller reports StateUnknown.
func (p *Poller) State() State {
	snap, ok := p.Latest()
	if !ok {
		return StateUnknown
	}
	return snap.Effective
}

// Config returns the poller's configuration.
func (p *Poller) Config() PollerConfig {
	return p.cfg
}

// Close releases the underlying source.
func (p *Poller) Close() error {
	return p.source.Close()
}
