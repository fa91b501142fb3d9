package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_calls_total",
		Help: "Number of SQL calls captured by request recorders",
	})
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recorder_query_duration_seconds",
		Help:    "Duration of captured SQL calls",
		Buckets: prometheus.DefBuckets,
	})
	dumpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_dumps_total",
		Help: "Number of request traces written to the store",
	})
	dumpFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_dump_failures_total",
		Help: "Number of request traces that could not be written",
	})
	activeRecorders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_active_requests",
		Help: "Requests currently being recorded",
	})
)
