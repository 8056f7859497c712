package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "visionone_audit"
)

var (
	// Fetch metrics
	PagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Count of API pages fetched successfully.",
	}, []string{"endpoint"})

	HTTPRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_retries_total",
		Help:      "Count of page fetch retries after transient failures.",
	}, []string{"endpoint"})

	RateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_hits_total",
		Help:      "Count of HTTP 429 responses observed.",
	}, []string{"endpoint"})

	// Record-quality metrics
	MalformedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_entries_total",
		Help:      "Count of audit-log entries skipped because of malformed shapes.",
	})

	// Classification metrics
	AccountsSeenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accounts_seen_total",
		Help:      "Number of directory accounts examined.",
	})

	AccountsFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accounts_flagged_total",
		Help:      "Number of accounts flagged for removal.",
	})
)
