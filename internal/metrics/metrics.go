// Package metrics holds the Prometheus collectors for the sync engine.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stampclock"

// Metrics is a dedicated registry plus the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	queueDepth prometheus.Gauge
	enqueued   *prometheus.CounterVec
	replays    *prometheus.CounterVec
	drains     *prometheus.CounterVec
	stamps     *prometheus.CounterVec
	reachable  prometheus.Gauge
}

// New creates a registry with process and Go runtime collectors and the
// stampclock collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of operations waiting in the offline queue.",
		}),
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Operations routed into the offline queue.",
		}, []string{"op"}),
		replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_replays_total",
			Help:      "Queued operations replayed against the backend.",
		}, []string{"op", "result"}),
		drains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drains_total",
			Help:      "Queue drain attempts by outcome.",
		}, []string{"outcome"}),
		stamps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stamps_total",
			Help:      "Stamp actions by resulting transition.",
		}, []string{"transition"}),
		reachable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_reachable",
			Help:      "1 if the backend was reachable at the last probe.",
		}),
	}
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveEnqueue counts an operation routed into the queue.
func (m *Metrics) ObserveEnqueue(op string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(op).Inc()
}

// ObserveReplay counts a replay with result "ok" or "error".
func (m *Metrics) ObserveReplay(op, result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(op, result).Inc()
}

// ObserveDrain counts a drain with outcome "completed", "halted", "skipped"
// or "empty".
func (m *Metrics) ObserveDrain(outcome string) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(outcome).Inc()
}

// ObserveStamp counts a stamp transition.
func (m *Metrics) ObserveStamp(transition string) {
	if m == nil {
		return
	}
	m.stamps.WithLabelValues(transition).Inc()
}

// SetReachable records the latest reachability observation.
func (m *Metrics) SetReachable(ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.reachable.Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
