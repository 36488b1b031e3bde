package sessions

import (
	"errors"
	"fmt"

	"InferenceGovernor/pkg/telemetry"
)

var (
	// ErrCapacityExceeded matches admission rejections caused by the session ceiling.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrThermalCritical matches admission rejections caused by a critical device state.
	ErrThermalCritical = errors.New("device state critical")
	// ErrSessionNotFound is returned for ids that were never issued or were released.
	ErrSessionNotFound = errors.New("session not found")
)

// Reason identifies why admission was rejected.
type Reason string

const (
	ReasonCapacityExceeded Reason = "capacity_exceeded"
	ReasonThermalCritical  Reason = "thermal_critical"
)

// AdmissionError is returned by Pool.Create when a session is not admitted.
type AdmissionError struct {
	Reason   Reason
	Active   int
	Capacity int
	State    telemetry.State
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case ReasonThermalCritical:
		return fmt.Sprintf("admission rejected: device state %s", e.State)
	default:
		return fmt.Sprintf("admission rejected: %d/%d sessions active (state %s)", e.Active, e.Capacity, e.State)
	}
}

// Unwrap exposes the sentinel for the rejection reason so errors.Is works.
func (e *AdmissionError) Unwrap() error {
	if e.Reason == ReasonThermalCritical {
		return ErrThermalCritical
	}
	return ErrCapacityExceeded
}

// RejectionReason reports the admission reason carried by err, if any.
func RejectionReason(err error) (Reason, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
