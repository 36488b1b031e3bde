package sessions

import "time"

// Phase is a session's lifecycle position. Released sessions no longer
// exist in the pool and have no phase.
type Phase string

const (
	PhaseCreated Phase = "created"
	PhaseActive  Phase = "active"
	PhaseIdle    Phase = "idle"
)

// Session is a snapshot of one admitted client's bookkeeping.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	RequestCount int       `json:"request_count"`
	TotalUnits   int       `json:"total_units"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
}

// Phase derives the lifecycle phase at now. A session untouched for longer
// than idleAfter is idle and eligible for sweeping.
func (s Session) Phase(now time.Time, idleAfter time.Duration) Phase {
	if idleAfter > 0 && now.Sub(s.LastActivity) > idleAfter {
		return PhaseIdle
	}
	if s.RequestCount == 0 {
		return PhaseCreated
	}
	return PhaseActive
}

// record applies one completed request using the incremental mean.
func (s *Session) record(units int, latencyMs float64, at time.Time) {
	s.RequestCount++
	s.TotalUnits += units
	s.AvgLatencyMs += (latencyMs - s.AvgLatencyMs) / float64(s.RequestCount)
	s.LastActivity = at
}
