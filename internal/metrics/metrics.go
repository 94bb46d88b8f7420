// Package metrics holds the Prometheus collectors exported on /metrics.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sigmsg"

type Metrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	decodeFailures prometheus.Counter
	sends          *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram
	transportUp    prometheus.Gauge
	subscribers    prometheus.Gauge
	scheduledSends *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the
// process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Decoded events from the daemon by kind and subkind.",
		}, []string{"kind", "subkind"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound segments that were not valid JSON.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Documents written to the daemon by method.",
		}, []string{"method"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Documents that could not be written, by method.",
		}, []string{"method"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Send requests handled by the HTTP surface, by outcome.",
		}, []string{"outcome"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of send requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		transportUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_up",
			Help:      "1 while the daemon connection is open.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected websocket event subscribers.",
		}),
		scheduledSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_sends_total",
			Help:      "Scheduled messages fired, by schedule name and outcome.",
		}, []string{"schedule", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.decodeFailures,
		m.sends,
		m.sendFailures,
		m.requests,
		m.requestLatency,
		m.transportUp,
		m.subscribers,
		m.scheduledSends,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(kind, subkind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, subkind).Inc()
}

func (m *Metrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// Send records a write attempt for method.
func (m *Metrics) Send(method string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sendFailures.WithLabelValues(method).Inc()
		return
	}
	m.sends.WithLabelValues(method).Inc()
}

// Request records one send request on the HTTP surface.
func (m *Metrics) Request(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestLatency.Observe(seconds)
}

func (m *Metrics) TransportUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.transportUp.Set(1)
	} else {
		m.transportUp.Set(0)
	}
}

func (m *Metrics) Subscribers(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}

func (m *Metrics) ScheduledSend(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.scheduledSends.WithLabelValues(name, outcome).Inc()
}
