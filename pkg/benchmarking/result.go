package benchmarking

import (
	"fmt"

	"InferenceGovernor/pkg/stats"
)

// Result aggregates one concurrency level. Latencies are in milliseconds.
type Result struct {
	Concurrency        int `json:"concurrency"`
	TotalRequests      int `json:"total_requests"`
	SuccessfulRequests int `json:"successful_requests"`
	FailedRequests     int `json:"failed_requests"`

	RejectedClients  int `json:"rejected_clients"`
	RejectedCapacity int `json:"rejected_capacity"`
	RejectedThermal  int `json:"rejected_thermal"`
	SessionErrors    int `json:"session_errors"`

	TTFTMinMs  float64 `json:"ttft_min_ms"`
	TTFTMaxMs  float64 `json:"ttft_max_ms"`
	TTFTMeanMs float64 `json:"ttft_mean_ms"`
	TTFTP50Ms  float64 `json:"ttft_p50_ms"`
	TTFTP90Ms  float64 `json:"ttft_p90_ms"`
	TTFTP99Ms  float64 `json:"ttft_p99_ms"`

	LatencyMinMs  float64 `json:"latency_min_ms"`
	LatencyMaxMs  float64 `json:"latency_max_ms"`
	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP50Ms  float64 `json:"latency_p50_ms"`
	LatencyP90Ms  float64 `json:"latency_p90_ms"`
	LatencyP99Ms  float64 `json:"latency_p99_ms"`

	TokensPerSecondMean float64 `json:"tokens_per_second_mean"`
	TotalUnits          int     `json:"total_units"`
	TotalThroughput     float64 `json:"total_throughput"`
	TestDurationSec     float64 `json:"test_duration_sec"`
	Cancelled           bool    `json:"cancelled"`
}

// SuccessRate returns successful/total, or 0 with no requests.
func (r Result) SuccessRate() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.SuccessfulRequests) / float64(r.TotalRequests)
}

func (r *Result) applyTTFT(s stats.Summary) {
	r.TTFTMinMs, r.TTFTMaxMs, r.TTFTMeanMs = s.Min, s.Max, s.Mean
	r.TTFTP50Ms, r.TTFTP90Ms, r.TTFTP99Ms = s.P50, s.P90, s.P99
}

func (r *Result) applyLatency(s stats.Summary) {
	r.LatencyMinMs, r.LatencyMaxMs, r.LatencyMeanMs = s.Min, s.Max, s.Mean
	r.LatencyP50Ms, r.LatencyP90Ms, r.LatencyP99Ms = s.P50, s.P90, s.P99
}

// ToRecord flattens the result for tabular exporters.
func (r Result) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":            int64(r.Concurrency),
		"total_requests":         int64(r.TotalRequests),
		"successful_requests":    int64(r.SuccessfulRequests),
		"failed_requests":        int64(r.FailedRequests),
		"rejected_clients":       int64(r.RejectedClients),
		"rejected_capacity":      int64(r.RejectedCapacity),
		"rejected_thermal":       int64(r.RejectedThermal),
		"session_errors":         int64(r.SessionErrors),
		"ttft_min_ms":            r.TTFTMinMs,
		"ttft_max_ms":            r.TTFTMaxMs,
		"ttft_mean_ms":           r.TTFTMeanMs,
		"ttft_p50_ms":            r.TTFTP50Ms,
		"ttft_p90_ms":            r.TTFTP90Ms,
		"ttft_p99_ms":            r.TTFTP99Ms,
		"latency_min_ms":         r.LatencyMinMs,
		"latency_max_ms":         r.LatencyMaxMs,
		"latency_mean_ms":        r.LatencyMeanMs,
		"latency_p50_ms":         r.LatencyP50Ms,
		"latency_p90_ms":         r.LatencyP90Ms,
		"latency_p99_ms":         r.LatencyP99Ms,
		"tokens_per_second_mean": r.TokensPerSecondMean,
		"total_units":            int64(r.TotalUnits),
		"total_throughput":       r.TotalThroughput,
		"test_duration_sec":      r.TestDurationSec,
		"cancelled":              r.Cancelled,
	}
}

// FromRecord rebuilds a Result from a record produced by ToRecord and read
// back by any exporter format.
func FromRecord(rec map[string]interface{}) (Result, error) {
	if _, ok := rec["concurrency"]; !ok {
		return Result{}, fmt.Errorf("record has no concurrency field")
	}
	i := func(key string) int { return int(number(rec[key])) }
	f := func(key string) float64 { return number(rec[key]) }

	cancelled, _ := rec["cancelled"].(bool)
	return Result{
		Concurrency:         i("concurrency"),
		TotalRequests:       i("total_requests"),
		SuccessfulRequests:  i("successful_requests"),
		FailedRequests:      i("failed_requests"),
		RejectedClients:     i("rejected_clients"),
		RejectedCapacity:    i("rejected_capacity"),
		RejectedThermal:     i("rejected_thermal"),
		SessionErrors:       i("session_errors"),
		TTFTMinMs:           f("ttft_min_ms"),
		TTFTMaxMs:           f("ttft_max_ms"),
		TTFTMeanMs:          f("ttft_mean_ms"),
		TTFTP50Ms:           f("ttft_p50_ms"),
		TTFTP90Ms:           f("ttft_p90_ms"),
		TTFTP99Ms:           f("ttft_p99_ms"),
		LatencyMinMs:        f("latency_min_ms"),
		LatencyMaxMs:        f("latency_max_ms"),
		LatencyMeanMs:       f("latency_mean_ms"),
		LatencyP50Ms:        f("latency_p50_ms"),
		LatencyP90Ms:        f("latency_p90_ms"),
		LatencyP99Ms:        f("latency_p99_ms"),
		TokensPerSecondMean: f("tokens_per_second_mean"),
		TotalUnits:          i("total_units"),
		TotalThroughput:     f("total_throughput"),
		TestDurationSec:     f("test_duration_sec"),
		Cancelled:           cancelled,
	}, nil
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
