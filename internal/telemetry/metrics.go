package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RetryAttempts  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_operation_attempts_total", Help: "Invocations of retried operations"}, []string{"operation"})
	RetryRetries   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_operation_retries_total", Help: "Retryable failures followed by a backoff"}, []string{"operation"})
	RetryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_operation_exhausted_total", Help: "Operations that failed on every attempt"}, []string{"operation"})
	RetryFatal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_operation_fatal_total", Help: "Operations that failed with a non-retryable error"}, []string{"operation"})

	ReplayHits   = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_replay_hits_total", Help: "Runs answered from the idempotency cache"})
	ReplayMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_replay_misses_total", Help: "Cache lookups that found no valid entry"})

	Sessions          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_sessions_total", Help: "Ledger sessions by status transition"}, []string{"status"})
	PagesProcessed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_pages_processed_total", Help: "Invoice table pages processed"})
	InvoicesCollected = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_invoices_collected_total", Help: "Paid or partially paid invoices collected"})
	RunRateLimited    = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_run_rate_limit_rejects_total", Help: "Run requests rejected by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RetryAttempts,
			RetryRetries,
			RetryExhausted,
			RetryFatal,
			ReplayHits,
			ReplayMisses,
			Sessions,
			PagesProcessed,
			InvoicesCollected,
			RunRateLimited,
		)
	})
	return promhttp.Handler()
}
