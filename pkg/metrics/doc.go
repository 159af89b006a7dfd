/*
Package metrics provides Prometheus metrics collection and exposition for the
control plane.

The metrics package defines and registers all control plane metrics using the
Prometheus client library, providing observability into registry membership,
probe outcomes, load balancer selections, workflow execution, stream
processing, and SLO compliance. Metrics are exposed via an HTTP endpoint for
scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Registry: instances, op outcomes           │          │
	│  │  Health Prober: probes, in-flight           │          │
	│  │  Load Balancer: selections, fallbacks       │          │
	│  │  Orchestrator: executions, leases           │          │
	│  │  Stream: records, watermarks, windows       │          │
	│  │  SLO: violations, compliance, burn rate     │          │
	│  │  Breaker: circuit state                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Registry / Health Prober:

controlplane_instances_total{service, status}:
  - Type: Gauge
  - Description: Registered instances by service and status
  - Example: controlplane_instances_total{service="checkout",status="Healthy"} 3

controlplane_registry_ops_total{op, outcome}:
  - Type: Counter
  - Description: Registry operations by op (Register/Deregister/Update) and outcome

controlplane_probes_total{kind, outcome}:
  - Type: Counter
  - Description: Health probes executed by kind (Http/Tcp/Grpc/Script) and outcome

controlplane_probe_duration_seconds{kind}:
  - Type: Histogram
  - Description: Probe execution duration

controlplane_probes_in_flight:
  - Type: Gauge
  - Description: Probes currently executing, bounded by the global semaphore

controlplane_registry_write_failures_total:
  - Type: Counter
  - Description: Registry writes that failed while reporting a probe outcome

Load Balancer:

controlplane_lb_selections_total{service, strategy}:
  - Type: Counter
  - Description: Instance selections by service and strategy

controlplane_lb_fallbacks_total{service}:
  - Type: Counter
  - Description: Selections that fell back to RoundRobin for lack of a client key

controlplane_lb_request_duration_seconds{service}:
  - Type: Histogram
  - Description: Recorded per-request latency fed into percentile tracking

Orchestrator:

controlplane_executions_total{workflow_id, status}:
  - Type: Counter
  - Description: Terminal execution transitions (Completed/Failed/Cancelled/TimedOut)

controlplane_executions_in_flight{status}:
  - Type: Gauge
  - Description: Executions currently Queued or Running

controlplane_execution_duration_seconds:
  - Type: Histogram
  - Description: Execution duration from started_at to a terminal state
  - Buckets: 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600

controlplane_execution_lease_expiries_total:
  - Type: Counter
  - Description: Leases that expired and were re-enqueued by the supervisor

Stream Processor:

controlplane_stream_records_total{outcome}:
  - Type: Counter
  - Description: Records processed by outcome (on_time/filtered/deserialize_error);
    a late record is counted as on_time here and also in the late-records counter

controlplane_stream_late_records_total{policy}:
  - Type: Counter
  - Description: Late records by the late-data policy applied (drop/update/side_output)

controlplane_watermark_regressions_total:
  - Type: Counter
  - Description: Observations that would have moved the watermark backward, discarded

controlplane_windows_emitted_total{kind}:
  - Type: Counter
  - Description: Windows emitted by kind (tumbling/sliding/session; global windows never emit)

controlplane_checkpoints_total:
  - Type: Counter
  - Description: Checkpoints written

SLO Validator:

controlplane_slo_violations_total{slo_id, severity}:
  - Type: Counter
  - Description: Violations recorded by severity tier (low/medium/high/critical)

controlplane_slo_compliance_percent{slo_id}:
  - Type: Gauge
  - Description: Most recently computed compliance percentage

controlplane_slo_burn_rate_per_hour{slo_id}:
  - Type: Gauge
  - Description: Most recently computed error-budget burn rate

Cross-cutting:

controlplane_circuit_breaker_state{upstream}:
  - Type: Gauge
  - Description: 0=closed, 1=half_open, 2=open

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/controlplane/pkg/metrics"

	metrics.InstancesTotal.WithLabelValues("checkout", "Healthy").Set(3)
	metrics.ExecutionsInFlight.WithLabelValues("Running").Inc()

Updating Counter Metrics:

	metrics.ProbesTotal.WithLabelValues("Http", "healthy").Inc()
	metrics.RegistryOpsTotal.WithLabelValues("Register", "ok").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ExecutionDuration)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.LBRequestLatency, "checkout")

Complete Example:

	package main

	import (
		"net/http"
		"github.com/cuemby/controlplane/pkg/metrics"
	)

	func main() {
		metrics.InstancesTotal.WithLabelValues("checkout", "Healthy").Set(5)
		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

This package integrates with:

  - pkg/registry: updates instance counts and op outcomes
  - pkg/health: records probe outcomes and durations
  - pkg/loadbalancer: records selections, fallbacks, and latency
  - pkg/orchestrator: tracks execution lifecycle and lease expiries
  - pkg/stream: tracks record outcomes, watermarks, windows, checkpoints
  - pkg/slo: tracks violations, compliance, and burn rate
  - pkg/breaker: does not report here; controlplane_circuit_breaker_state is
    registered but no package sets it
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration
  - No runtime registration needed

Label Discipline:
  - service/workflow_id/slo_id are operator-defined identifiers, not request IDs
  - Avoid high-cardinality labels (execution IDs, instance IDs, timestamps)

Timer Pattern:
  - Create timer at operation start, call ObserveDuration at completion
  - Supports both simple and vector histograms

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
