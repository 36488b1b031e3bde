package telemetry

import "fmt"

// Thresholds are three ascending boundaries. A value equal to a boundary
// resolves to the higher severity.
type Thresholds struct {
	Warning  float64 `mapstructure:"warning" yaml:"warning" json:"warning"`
	Throttle float64 `mapstructure:"throttle" yaml:"throttle" json:"throttle"`
	Critical float64 `mapstructure:"critical" yaml:"critical" json:"critical"`
}

// Validate checks that the thresholds are strictly ascending.
func (t Thresholds) Validate() error {
	if !(t.Warning < t.Throttle && t.Throttle < t.Critical) {
		return fmt.Errorf("thresholds must be ascending (warning < throttle < critical), got %v/%v/%v",
			t.Warning, t.Throttle, t.Critical)
	}
	return nil
}

// Classify maps a value onto a state using t.
func Classify(value float64, t Thresholds) State {
	switch {
	case value >= t.Critical:
		return StateCritical
	case value >= t.Throttle:
		return StateThrottling
	case value >= t.Warning:
		return StateWarning
	default:
		return StateNormal
	}
}

// ClassifyThermal classifies a reading's temperature.
func ClassifyThermal(r Reading, t Thresholds) State {
	return Classify(r.TemperatureC, t)
}

// ClassifyMemory classifies a reading's memory-used percentage.
func ClassifyMemory(r Reading, t Thresholds) State {
	return Classify(r.MemoryPercent(), t)
}

// Evaluate builds the derived states for a set of readings. The most severe
// device decides each dimension; no readings yields StateUnknown.
func Evaluate(readings []Reading, thermal, memory Thresholds) (thermalState, memoryState, effective State) {
	if len(readings) == 0 {
		return StateUnknown, StateUnknown, StateUnknown
	}

	thermalState, memoryState = StateNormal, StateNormal
	for _, r := range readings {
		thermalState = MoreRestrictive(thermalState, ClassifyThermal(r, thermal))
		memoryState = MoreRestrictive(memoryState, ClassifyMemory(r, memory))
	}
	return thermalState, memoryState, MoreRestrictive(thermalState, memoryState)
}

// Recommend returns operator guidance for the derived states.
func Recommend(thermal, memory State) string {
	effective := MoreRestrictive(thermal, memory)
	cause := "temperature"
	if memory > thermal {
		cause = "memory pressure"
	}

	switch effective {
	case StateCritical:
		return fmt.Sprintf("critical %s: rejecting new sessions until the device recovers", cause)
	case StateThrottling:
		return fmt.Sprintf("high %s: capacity for new sessions reduced temporarily", cause)
	case StateWarning:
		return fmt.Sprintf("elevated %s: monitor closely, capacity unchanged", cause)
	case StateNormal:
		return "operating within limits"
	default:
		return "telemetry unavailable: admission unaffected"
	}
}
