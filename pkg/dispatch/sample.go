package dispatch

import "time"

// Sample is the immutable record of one dispatched unit of work.
type Sample struct {
	SessionID  string        `json:"session_id"`
	Success    bool          `json:"success"`
	TTFT       time.Duration `json:"ttft_ns"`
	Total      time.Duration `json:"total_ns"`
	Units      int           `json:"units"`
	Throughput float64       `json:"throughput"`
	Text       string        `json:"-"`
	Err        string        `json:"error,omitempty"`
}

// TTFTMillis returns time-to-first-unit in milliseconds.
func (s Sample) TTFTMillis() float64 {
	return float64(s.TTFT) / float64(time.Millisecond)
}

// TotalMillis returns total duration in milliseconds.
func (s Sample) TotalMillis() float64 {
	return float64(s.Total) / float64(time.Millisecond)
}

// Throughput returns units per second, or 0 for a non-positive duration.
func Throughput(units int, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(units) / total.Seconds()
}
