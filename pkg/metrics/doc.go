/*
Package metrics exposes reconnect's Prometheus metrics and component health.

All collectors are package-level variables registered in init, so any
package can record a value without plumbing a registry through:

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProviderRequestDuration)

# Metric families

Jobs:
  - reconnect_jobs_processed_total{outcome}
  - reconnect_jobs_requeued_total{reason}
  - reconnect_fanout_jobs_total
  - reconnect_reconciliation_duration_seconds{outcome}

Provider:
  - reconnect_provider_requests_total{result}
  - reconnect_provider_request_duration_seconds

Ledger:
  - reconnect_batches_submitted_total{result}
  - reconnect_batch_size_calls
  - reconnect_capacity_withdrawn_total

Queue and scanner:
  - reconnect_queue_jobs{status}
  - reconnect_queue_paused
  - reconnect_scanner_last_block

reconnect_queue_jobs is sampled by a Collector on a fixed interval.

# Health

RegisterComponent and UpdateComponent record the health of each component
(ledger, queue, provider). GetReadiness requires every expected component to
be registered and healthy; HealthHandler, ReadyHandler and
LivenessHandler expose the results over HTTP.
*/
package metrics
