// Package metrics registers the Prometheus collectors for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgsync_upstream_requests_total",
			Help: "Upstream resource fetches by resource kind and outcome (found, not_found, unavailable).",
		},
		[]string{"resource", "outcome"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgsync_upstream_retries_total",
			Help: "Upstream attempts that were retried.",
		},
		[]string{"resource"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcgsync_upstream_request_duration_seconds",
			Help:    "Latency of single upstream attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tcgsync_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	BatchWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgsync_batch_writes_total",
			Help: "Batch upserts by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	Items = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgsync_items_total",
			Help: "Synced entities by kind and outcome.",
		},
		[]string{"entity", "outcome"},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcgsync_runs_total",
			Help: "Finished sync runs by scope and status.",
		},
		[]string{"scope", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcgsync_run_duration_seconds",
			Help:    "Wall time of sync runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"scope"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcgsync_queue_jobs_inflight",
			Help: "Jobs dequeued and not yet acknowledged by this process.",
		},
	)
)
