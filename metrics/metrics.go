package metrics

import "github.com/prometheus/client_golang/prometheus"

// RequestDuration is a histogram of backend call latency by operation and outcome, with
// buckets that are incrementally 50% larger than the last, ranging from 1ms to ~2.2s.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "faasctl_request_duration_milliseconds",
		Help:    "Backend request duration distribution",
		Buckets: prometheus.ExponentialBuckets(1, 1.5, 20),
	}, []string{"operation", "code"})

// PollTicksSkipped counts poll ticks dropped because the previous fetch of the same view
// had not resolved yet. A steady increase means the interval is shorter than backend latency.
var PollTicksSkipped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "faasctl_poll_ticks_skipped_total",
		Help: "Poll ticks skipped while a fetch was still in flight.",
	}, []string{"view"})

// Mutations counts completed mutations by operation and outcome.
var Mutations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "faasctl_mutations_total",
		Help: "Mutations by operation and outcome.",
	}, []string{"operation", "outcome"})

// Register adds all collectors to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(RequestDuration, PollTicksSkipped, Mutations)
}
