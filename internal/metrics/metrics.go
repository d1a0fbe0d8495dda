// Package metrics holds the Prometheus collectors of the client. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "partidas"

type Metrics struct {
	apiRequests *prometheus.HistogramVec
	pollTicks   *prometheus.CounterVec
	actions     *prometheus.CounterVec
	enrollments *prometheus.CounterVec
	creations   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to the remote game service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Poll ticks by result (changed, unchanged, error).",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "total",
			Help:      "User actions by kind and result.",
		}, []string{"kind", "result"}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "creation",
			Name:      "enrollments_total",
			Help:      "Player enrollment tasks by outcome.",
		}, []string{"outcome"}),
		creations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "creation",
			Name:      "workflows_total",
			Help:      "Creation workflows by final state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.apiRequests, m.pollTicks, m.actions, m.enrollments, m.creations)
	return m
}

func (m *Metrics) ObserveAPI(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func (m *Metrics) PollTick(result string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) Action(kind, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Enrollment(outcome string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Creation(state string) {
	if m == nil {
		return
	}
	m.creations.WithLabelValues(state).Inc()
}
