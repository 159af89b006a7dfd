// Package metrics is the control plane's Metrics Sink: every component
// reports counters/gauges/histograms here and they are exposed for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_instances_total",
			Help: "Total number of registered service instances by service and status",
		},
		[]string{"service", "status"},
	)

	RegistryOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_registry_ops_total",
			Help: "Total number of registry operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Health prober metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_probes_total",
			Help: "Total number of health probes executed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_probe_duration_seconds",
			Help:    "Health probe duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ProbesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_probes_in_flight",
			Help: "Number of health probes currently executing",
		},
	)

	RegistryWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_registry_write_failures_total",
			Help: "Total number of failed Registry writes from the health prober",
		},
	)

	// Load balancer metrics
	LBSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_lb_selections_total",
			Help: "Total number of load balancer selections by service and strategy",
		},
		[]string{"service", "strategy"},
	)

	LBFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_lb_fallbacks_total",
			Help: "Total number of selections that fell back to round robin for lack of a client key",
		},
		[]string{"service"},
	)

	LBRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_lb_request_duration_seconds",
			Help:    "Recorded request latency per instance, by service",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Orchestrator metrics
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_executions_total",
			Help: "Total number of workflow executions by workflow and terminal status",
		},
		[]string{"workflow_id", "status"},
	)

	ExecutionsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_executions_in_flight",
			Help: "Number of workflow executions currently Queued or Running",
		},
		[]string{"status"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "controlplane_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds, from started_at to completed_at",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
	)

	LeaseExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_execution_lease_expiries_total",
			Help: "Total number of execution leases that expired and were re-enqueued",
		},
	)

	// Stream processor metrics
	StreamRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_stream_records_total",
			Help: "Total number of stream records processed by outcome",
		},
		[]string{"outcome"},
	)

	StreamLateRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_stream_late_records_total",
			Help: "Total number of late records by late-data policy applied",
		},
		[]string{"policy"},
	)

	WatermarkRegressionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_watermark_regressions_total",
			Help: "Total number of regressive watermark observations discarded",
		},
	)

	WindowsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_windows_emitted_total",
			Help: "Total number of windows emitted by kind",
		},
		[]string{"kind"},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_checkpoints_total",
			Help: "Total number of checkpoints written",
		},
	)

	// SLO validator metrics
	SloViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_slo_violations_total",
			Help: "Total number of SLO violations by slo and severity",
		},
		[]string{"slo_id", "severity"},
	)

	SloCompliancePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_slo_compliance_percent",
			Help: "Most recently computed compliance percentage per SLO",
		},
		[]string{"slo_id"},
	)

	SloBurnRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_slo_burn_rate_per_hour",
			Help: "Most recently computed burn rate (percent/hour) per SLO",
		},
		[]string{"slo_id"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_circuit_breaker_state",
			Help: "Circuit breaker state per upstream (0=closed, 1=half_open, 2=open)",
		},
		[]string{"upstream"},
	)
)

func init() {
	prometheus.MustRegister(
		InstancesTotal,
		RegistryOpsTotal,
		ProbesTotal,
		ProbeDuration,
		ProbesInFlight,
		RegistryWriteFailuresTotal,
		LBSelectionsTotal,
		LBFallbacksTotal,
		LBRequestLatency,
		ExecutionsTotal,
		ExecutionsInFlight,
		ExecutionDuration,
		LeaseExpiriesTotal,
		StreamRecordsTotal,
		StreamLateRecordsTotal,
		WatermarkRegressionsTotal,
		WindowsEmittedTotal,
		CheckpointsTotal,
		SloViolationsTotal,
		SloCompliancePercent,
		SloBurnRate,
		CircuitBreakerState,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
