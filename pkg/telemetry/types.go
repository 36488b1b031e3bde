// Package telemetry samples accelerator health and derives the thermal and
// memory-pressure state used to gate session admission.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSourceUnavailable is returned when a telemetry source cannot be initialized.
var ErrSourceUnavailable = errors.New("telemetry source unavailable")

// Reading is one device's telemetry at a point in time. Readings are never
// mutated after a poll records them.
type Reading struct {
	Device             int     `json:"device"`
	Name               string  `json:"name,omitempty"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
	TemperatureC       float64 `json:"temperature_c"`
	PowerW             float64 `json:"power_w"`
}

// MemoryPercent returns used/total as a percentage, or 0 if total is unknown.
func (r Reading) MemoryPercent() float64 {
	if r.MemoryTotalBytes == 0 {
		return 0
	}
	return float64(r.MemoryUsedBytes) / float64(r.MemoryTotalBytes) * 100
}

// State is a coarse health classification. Values are ordered by severity.
type State int

const (
	StateUnknown State = iota
	StateNormal
	StateWarning
	StateThrottling
	StateCritical
)

var stateNames = map[State]string{
	StateUnknown:    "unknown",
	StateNormal:     "normal",
	StateWarning:    "warning",
	StateThrottling: "throttling",
	StateCritical:   "critical",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for k, v := range stateNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown telemetry state %q", name)
}

// Admission returns the state admission control should act on. Unknown
// telemetry is treated as Normal so a missing source never blocks traffic.
func (s State) Admission() State {
	if s == StateUnknown {
		return StateNormal
	}
	return s
}

// MoreRestrictive returns the more severe of a and b.
func MoreRestrictive(a, b State) State {
	if b > a {
		return b
	}
	return a
}

// Snapshot is the result of one completed poll.
type Snapshot struct {
	Source         string    `json:"source"`
	CollectedAt    time.Time `json:"collected_at"`
	Readings       []Reading `json:"readings"`
	Thermal        State     `json:"thermal_state"`
	Memory         State     `json:"memory_state"`
	Effective      State     `json:"effective_state"`
	Recommendation string    `json:"recommendation"`
}

// ToRecords flattens the snapshot to one row per device for tabular
// exporters.
func (s Snapshot) ToRecords() []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(s.Readings))
	for _, r := range s.Readings {
		rows = append(rows, map[string]interface{}{
			"collected_at":        s.CollectedAt.UTC().Format(time.RFC3339Nano),
			"source":              s.Source,
			"device":              int64(r.Device),
			"name":                r.Name,
			"memory_used_bytes":   int64(r.MemoryUsedBytes),
			"memory_total_bytes":  int64(r.MemoryTotalBytes),
			"memory_percent":      r.MemoryPercent(),
			"utilization_percent": r.UtilizationPercent,
			"temperature_c":       r.TemperatureC,
			"power_w":             r.PowerW,
			"thermal_state":       s.Thermal.String(),
			"memory_state":        s.Memory.String(),
			"effective_state":     s.Effective.String(),
		})
	}
	return rows
}
