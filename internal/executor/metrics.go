package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_provider_attempts_total",
			Help: "Total number of individual provider call attempts.",
		},
		[]string{"operation", "status"}, // status: success, quota, unavailable, invalid_response, error
	)
	providerAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_provider_attempt_duration_seconds",
			Help:    "Histogram of provider call attempt durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	keyRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_key_rotations_total",
			Help: "Total number of credential rotations caused by failures.",
		},
		[]string{"operation"},
	)
	poolExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_key_pool_exhausted_total",
			Help: "Total number of requests that failed after trying every key.",
		},
		[]string{"operation"},
	)
)
