package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_requests_total",
		Help: "Total logical requests by method and outcome",
	}, []string{"method", "outcome"}) // outcome: "success", "failed", "exhausted", "canceled"

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_request_attempt_duration_seconds",
		Help:    "Duration of a single physical request attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_errors_total",
		Help: "Total failed attempts by error kind",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_retries_total",
		Help: "Total number of retries by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_retry_exhausted_total",
		Help: "Total number of requests that ran out of retries by error kind",
	}, []string{"kind"})
)

const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeExhausted = "exhausted"
	outcomeCanceled  = "canceled"
)
