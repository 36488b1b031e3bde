// Package metrics exposes serving and device metrics in Prometheus format.
// Each Metrics owns its registry; nothing is registered globally.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

const namespace = "forge"

// Metrics implements sessions.Observer and dispatch.Recorder and consumes
// telemetry snapshots.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	ttft              prometheus.Histogram
	latency           prometheus.Histogram
	tokensPerSecond   prometheus.Histogram
	activeSessions    prometheus.Gauge
	effectiveCapacity prometheus.Gauge
	rejections        *prometheus.CounterVec

	gpuMemoryUsed  *prometheus.GaugeVec
	gpuMemoryTotal *prometheus.GaugeVec
	gpuUtilization *prometheus.GaugeVec
	gpuTemperature *prometheus.GaugeVec
	gpuPower       *prometheus.GaugeVec
	admissionState prometheus.Gauge
}

// New creates the metric families on a fresh registry along with the Go
// runtime and process collectors.
func New(model string) *Metrics {
	constLabels := prometheus.Labels{"model": model}
	gpu := []string{"gpu_id"}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inference_requests_total",
			Help: "Total inference requests by outcome", ConstLabels: constLabels,
		}, []string{"status"}),
		ttft: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ttft_seconds",
			Help: "Time to first token", ConstLabels: constLabels,
			Buckets: []float64{.01, .025, .05, .075, .1, .25, .5, 1, 2},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "total_latency_seconds",
			Help: "End-to-end request latency", ConstLabels: constLabels,
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}),
		tokensPerSecond: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tokens_per_second",
			Help: "Per-request generation throughput", ConstLabels: constLabels,
			Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Sessions currently admitted",
		}),
		effectiveCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "effective_capacity",
			Help: "Session ceiling after device-state reduction",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "admission_rejections_total",
			Help: "Sessions refused at admission by reason",
		}, []string{"reason"}),
		gpuMemoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gpu_memory_used_bytes", Help: "Device memory in use",
		}, gpu),
		gpuMemoryTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gpu_memory_total_bytes", Help: "Device memory capacity",
		}, gpu),
		gpuUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gpu_utilization_percent", Help: "Device compute utilization",
		}, gpu),
		gpuTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gpu_temperature_celsius", Help: "Device temperature",
		}, gpu),
		gpuPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gpu_power_watts", Help: "Device power draw",
		}, gpu),
		admissionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "admission_state",
			Help: "Effective device state (0 unknown, 1 normal, 2 warning, 3 throttling, 4 critical)",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.ttft, m.latency, m.tokensPerSecond,
		m.activeSessions, m.effectiveCapacity, m.rejections,
		m.gpuMemoryUsed, m.gpuMemoryTotal, m.gpuUtilization, m.gpuTemperature, m.gpuPower,
		m.admissionState,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSample records one dispatched unit of work.
func (m *Metrics) ObserveSample(s dispatch.Sample) {
	if !s.Success {
		m.requests.WithLabelValues("error").Inc()
		return
	}
	m.requests.WithLabelValues("success").Inc()
	m.ttft.Observe(s.TTFT.Seconds())
	m.latency.Observe(s.Total.Seconds())
	m.tokensPerSecond.Observe(s.Throughput)
}

// SessionsChanged tracks pool occupancy.
func (m *Metrics) SessionsChanged(active, effectiveCapacity int) {
	m.activeSessions.Set(float64(active))
	m.effectiveCapacity.Set(float64(effectiveCapacity))
}

// CapacityChanged refreshes the admission ceiling when device state moves
// without a session change.
func (m *Metrics) CapacityChanged(effectiveCapacity int) {
	m.effectiveCapacity.Set(float64(effectiveCapacity))
}

// AdmissionRejected counts a refused session.
func (m *Metrics) AdmissionRejected(reason sessions.Reason) {
	m.rejections.WithLabelValues(string(reason)).Inc()
}

// ObserveSnapshot publishes per-device telemetry. Devices missing from the
// snapshot keep their previous values.
func (m *Metrics) ObserveSnapshot(s telemetry.Snapshot) {
	for _, r := range s.Readings {
		id := strconv.Itoa(r.Device)
		m.gpuMemoryUsed.WithLabelValues(id).Set(float64(r.MemoryUsedBytes))
		m.gpuMemoryTotal.WithLabelValues(id).Set(float64(r.MemoryTotalBytes))
		m.gpuUtilization.WithLabelValues(id).Set(r.UtilizationPercent)
		m.gpuTemperature.WithLabelValues(id).Set(r.TemperatureC)
		m.gpuPower.WithLabelValues(id).Set(r.PowerW)
	}
	m.admissionState.Set(float64(s.Effective))
}
