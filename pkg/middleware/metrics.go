package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_http_requests_total",
		Help: "HTTP requests served, by method and status",
	}, []string{"method", "status"})
	httpDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_http_request_duration_seconds",
		Help:    "Time spent serving HTTP requests",
		Buckets: prometheus.DefBuckets,
	})
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)
