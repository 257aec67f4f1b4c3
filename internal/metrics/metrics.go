// Package metrics holds ghwatch's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ghwatch"

// Metrics is safe for concurrent use. A nil *Metrics is a valid no-op.
type Metrics struct {
	reg *prometheus.Registry

	polls         *prometheus.CounterVec
	events        *prometheus.CounterVec
	unclassified  prometheus.Counter
	cycleDuration prometheus.Histogram
	deliveries    *prometheus.CounterVec
	commands      *prometheus.CounterVec
	tracked       prometheus.Gauge
	destinations  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.polls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Feed fetches by result",
	}, []string{"result"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "New events seen, by classifier rule",
	}, []string{"kind"})
	m.unclassified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unclassified_events_total",
		Help:      "Events no classifier rule matched",
	})
	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one full polling cycle",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Notification sends by result",
	}, []string{"result"})
	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Admin commands handled, by name",
	}, []string{"name"})
	m.tracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_accounts",
		Help:      "Number of tracked GitHub accounts",
	})
	m.destinations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "destinations",
		Help:      "Number of resolved destination chats",
	})

	m.reg.MustRegister(
		m.polls, m.events, m.unclassified, m.cycleDuration,
		m.deliveries, m.commands, m.tracked, m.destinations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the private registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Poll(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.polls.WithLabelValues("ok").Inc()
	} else {
		m.polls.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Unclassified() {
	if m == nil {
		return
	}
	m.unclassified.Inc()
}

func (m *Metrics) CycleSeconds(s float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(s)
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	if name == "" {
		name = "empty"
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

func (m *Metrics) SetDestinations(n int) {
	if m == nil {
		return
	}
	m.destinations.Set(float64(n))
}
