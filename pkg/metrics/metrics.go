package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records sign-in attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devfolio_auth_attempts_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh-token exchanges by result (success|reused|invalid).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devfolio_token_refreshes_total",
			Help: "Total number of refresh token exchanges",
		},
		[]string{"result"},
	)

	// EmailsSent counts outbound emails by kind (verification|password_reset)
	// and result (sent|failed|skipped).
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devfolio_emails_total",
			Help: "Total number of outbound email dispatch attempts",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devfolio_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
