package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// AuthResults counts Auth Gate outcomes: ok, unauthorized, forbidden.
	AuthResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "auth_results_total", Help: "Bearer token checks by outcome."},
		[]string{"outcome"},
	)
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "store_operations_total", Help: "Document store calls by collection, operation and result."},
		[]string{"collection", "op", "result"},
	)
	DownloadsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "downloads_recorded_total", Help: "Download records inserted."},
	)
	// DownloadCountFailures counts inserts whose counter increment failed afterwards.
	DownloadCountFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "modelhub", Name: "download_count_failures_total", Help: "Download records whose model counter was not incremented."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthResults)
	reg.MustRegister(StoreOperations)
	reg.MustRegister(DownloadsRecorded)
	reg.MustRegister(DownloadCountFailures)
}
