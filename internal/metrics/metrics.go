package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Passes         prometheus.Counter
	Fetched        prometheus.Counter
	Skipped        prometheus.Counter
	Successes      prometheus.Counter
	Failures       prometheus.Counter
	SendAttempts   prometheus.Counter
	ProcessingTime prometheus.Histogram
}

// New creates Prometheus metrics registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Passes: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_passes_total",
			Help: "Total number of processing passes",
		}),
		Fetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_fetched_total",
			Help: "Total number of alert emails fetched",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_skipped_total",
			Help: "Total number of alerts skipped as already processed",
		}),
		Successes: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_successes_total",
			Help: "Total number of alerts triaged and routed successfully",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_failures_total",
			Help: "Total number of alerts that failed classification or delivery",
		}),
		SendAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertiq_send_attempts_total",
			Help: "Total number of summary delivery attempts, including retries",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertiq_pass_duration_seconds",
			Help:    "Time spent per processing pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
