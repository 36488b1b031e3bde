// Package sessions implements the admission-controlled session pool.
package sessions

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/telemetry"
)

// Default pool settings.
const (
	DefaultMaxSessions    = 10
	DefaultThrottleFactor = 0.5
	DefaultSweepInterval  = 60 * time.Second
	DefaultMaxIdle        = 300 * time.Second
)

// Config holds the pool's admission policy.
type Config struct {
	MaxSessions      int     `json:"max_sessions"`
	ThrottleFactor   float64 `json:"throttle_factor"`
	RejectOnCritical bool    `json:"reject_on_critical"`
}

// StateReader exposes the latest derived device state. Implementations
// must return immediately.
type StateReader interface {
	State() telemetry.State
}

// Observer receives pool events. Methods run with the pool lock held and
// must not call back into the pool.
type Observer interface {
	SessionsChanged(active, effectiveCapacity int)
	AdmissionRejected(reason Reason)
}

// Option configures a Pool.
type Option func(*Pool)

// WithState makes admission consult r for the device state.
func WithState(r StateReader) Option {
	return func(p *Pool) { p.state = r }
}

// WithObserver registers o for pool events.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pool) { p.newID = gen }
}

// Pool is a bounded registry of active sessions. A single mutex guards the
// registry; session counts are small and unit-of-work latency dominates.
type Pool struct {
	cfg      Config
	state    StateReader
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewPool creates an empty pool. Without WithState the device state is
// unknown, which admits as Normal.
func NewPool(cfg Config, opts ...Option) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.ThrottleFactor <= 0 || cfg.ThrottleFactor > 1 {
		cfg.ThrottleFactor = DefaultThrottleFactor
	}

	p := &Pool{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) currentState() telemetry.State {
	if p.state == nil {
		return telemetry.StateNormal
	}
	return p.state.State().Admission()
}

// capacityFor returns the admission ceiling under state. Throttling lowers
// the ceiling for new sessions only; existing sessions are never evicted.
// Critical without reject-on-critical uses the throttled ceiling as well.
func (p *Pool) capacityFor(state telemetry.State) int {
	switch {
	case state == telemetry.StateThrottling,
		state == telemetry.StateCritical && !p.cfg.RejectOnCritical:
		reduced := int(math.Floor(float64(p.cfg.MaxSessions) * p.cfg.ThrottleFactor))
		return max(1, min(reduced, p.cfg.MaxSessions))
	default:
		return p.cfg.MaxSessions
	}
}

// Create admits a new session or returns an *AdmissionError.
func (p *Pool) Create() (Session, error) {
	state := p.currentState()

	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := p.capacityFor(state)
	active := len(p.sessions)

	if state == telemetry.StateCritical && p.cfg.RejectOnCritical {
		return Session{}, p.rejectLocked(&AdmissionError{
			Reason: ReasonThermalCritical, Active: active, Capacity: capacity, State: state,
		})
	}
	if active >= capacity {
		return Session{}, p.rejectLocked(&AdmissionError{
			Reason: ReasonCapacityExceeded, Active: active, Capacity: capacity, State: state,
		})
	}

	id := p.uniqueIDLocked()
	now := p.now()
	s := &Session{ID: id, CreatedAt: now, LastActivity: now}
	p.sessions[id] = s

	p.logger.Debug("session created", zap.String("session_id", id), zap.Int("active", active+1), zap.Int("capacity", capacity))
	p.notifyLocked(capacity)
	return *s, nil
}

func (p *Pool) uniqueIDLocked() string {
	for {
		id := p.newID()
		if _, taken := p.sessions[id]; id != "" && !taken {
			return id
		}
	}
}

func (p *Pool) rejectLocked(err *AdmissionError) error {
	p.logger.Info("session rejected",
		zap.String("reason", string(err.Reason)),
		zap.Int("active", err.Active),
		zap.Int("capacity", err.Capacity),
		zap.Stringer("state", err.State),
	)
	if p.observer != nil {
		p.observer.AdmissionRejected(err.Reason)
	}
	return err
}

func (p *Pool) notifyLocked(capacity int) {
	if p.observer != nil {
		p.observer.SessionsChanged(len(p.sessions), capacity)
	}
}

// Release removes a session. Unknown ids are ignored.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sessions[id]; !ok {
		return
	}
	delete(p.sessions, id)
	p.logger.Debug("session released", zap.String("session_id", id), zap.Int("active", len(p.sessions)))
	p.notifyLocked(p.capacityFor(p.currentState()))
}

// Touch records one completed request against the session.
func (p *Pool) Touch(id string, units int, latencyMs float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.record(units, latencyMs, p.now())
	return nil
}

// Get returns a copy of the session.
func (p *Pool) Get(id string) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// List returns copies of all sessions ordered by creation time.
func (p *Pool) List() []Session {
	p.mu.Lock()
	out := make([]Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, *s)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of active sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Capacity returns the configured maximum.
func (p *Pool) Capacity() int {
	return p.cfg.MaxSessions
}

// EffectiveCapacity returns the ceiling new admissions currently face.
func (p *Pool) EffectiveCapacity() int {
	return p.capacityFor(p.currentState())
}

// Config returns the pool's admission policy.
func (p *Pool) Config() Config {
	return p.cfg
}

// Sweep removes sessions idle for longer than maxIdle and returns how many
// were removed.
func (p *Pool) Sweep(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for id, s := range p.sessions {
		if now.Sub(s.LastActivity) > maxIdle {
			delete(p.sessions, id)
			removed++
			p.logger.Info("session expired", zap.String("session_id", id), zap.Duration("idle", now.Sub(s.LastActivity)))
		}
	}
	if removed > 0 {
		p.notifyLocked(p.capacityFor(p.currentState()))
	}
	return removed
}

// Janitor sweeps on every interval until ctx is done.
func (p *Pool) Janitor(ctx context.Context, interval, maxIdle time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Sweep(maxIdle); n > 0 {
				p.logger.Info("swept idle sessions", zap.Int("removed", n))
			}
		}
	}
}
