package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions issued minus sessions revoked by this process.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iam_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// TokenRotations counts refresh attempts by result (success|rejected|reuse|error).
	TokenRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_token_rotations_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"result"},
	)

	// TokenReuseDetected counts refresh tokens presented after they were already consumed.
	TokenReuseDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iam_token_reuse_detected_total",
			Help: "Total number of detected refresh token reuses",
		},
	)

	// SessionCacheLookups counts gate cache lookups (hit|miss|error).
	SessionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_session_cache_lookups_total",
			Help: "Session cache lookups performed by the authentication gate",
		},
		[]string{"result"},
	)

	// GateDecisions counts authentication gate outcomes by reason.
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iam_gate_decisions_total",
			Help: "Authentication gate decisions",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iam_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
