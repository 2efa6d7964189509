package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconnect_jobs_processed_total",
			Help: "Total number of reconciliation jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	JobsRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconnect_jobs_requeued_total",
			Help: "Total number of jobs re-enqueued by reason",
		},
		[]string{"reason"},
	)

	FanOutJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconnect_fanout_jobs_total",
			Help: "Total number of peer jobs enqueued by transitive fan-out",
		},
	)

	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconnect_reconciliation_duration_seconds",
			Help:    "Time taken to reconcile one user graph in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Provider metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconnect_provider_requests_total",
			Help: "Total number of provider page requests by result",
		},
		[]string{"result"},
	)

	ProviderRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconnect_provider_request_duration_seconds",
			Help:    "Provider page request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ledger metrics
	BatchesSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconnect_batches_submitted_total",
			Help: "Total number of capacity batches submitted by result",
		},
		[]string{"result"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconnect_batch_size_calls",
			Help:    "Number of calls per submitted capacity batch",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	CapacityWithdrawnTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconnect_capacity_withdrawn_total",
			Help: "Total capacity withdrawn by submitted batches",
		},
	)

	// Queue metrics
	QueueJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconnect_queue_jobs",
			Help: "Number of jobs in the queue by status",
		},
		[]string{"status"},
	)

	QueuePaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconnect_queue_paused",
			Help: "Whether the job queue is paused (1 = paused, 0 = running)",
		},
	)

	// Scanner metrics
	ScannerLastBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconnect_scanner_last_block",
			Help: "Last ledger block processed by the delegation scanner",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobsRequeuedTotal)
	prometheus.MustRegister(FanOutJobsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(BatchesSubmittedTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(CapacityWithdrawnTotal)
	prometheus.MustRegister(QueueJobs)
	prometheus.MustRegister(QueuePaused)
	prometheus.MustRegister(ScannerLastBlock)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
