// Package metrics exposes Prometheus instrumentation for external calls,
// collector outcomes and HTTP traffic. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nodestatus"

// Outcome labels for external calls.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

type Metrics struct {
	registry         *prometheus.Registry
	callDuration     *prometheus.HistogramVec
	collectorFailure *prometheus.CounterVec
	feeSource        *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	forwardEvents    prometheus.Gauge
}

// New registers every collector on a private registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Duration of external process and HTTP calls.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"source", "outcome"},
		),
		collectorFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collector_failures_total",
				Help:      "Collector calls that ended in a Failed result.",
			},
			[]string{"collector"},
		),
		feeSource: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fee_quote_source_total",
				Help:      "Fee quotes served, by provenance.",
			},
			[]string{"source"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests handled, by route and status code.",
			},
			[]string{"route", "code"},
		),
		forwardEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forwarding_events_last_window",
			Help:      "Raw forwarding events returned by the most recent aggregation.",
		}),
	}
	reg.MustRegister(
		m.callDuration,
		m.collectorFailure,
		m.feeSource,
		m.httpRequests,
		m.forwardEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCall records the duration of one external call.
func (m *Metrics) ObserveCall(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(source, outcome).Observe(d.Seconds())
}

func (m *Metrics) CollectorFailed(collector string) {
	if m == nil {
		return
	}
	m.collectorFailure.WithLabelValues(collector).Inc()
}

func (m *Metrics) FeeQuoteServed(source string) {
	if m == nil {
		return
	}
	m.feeSource.WithLabelValues(source).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ForwardingEvents(n int) {
	if m == nil {
		return
	}
	m.forwardEvents.Set(float64(n))
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
