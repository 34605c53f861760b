package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticket_sla"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	gatherer     prometheus.Gatherer
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	escalations  *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanErrors   prometheus.Counter
	scanned      prometheus.Counter
}

// NewMetrics registers collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Error responses by route, method and error code.",
		}, []string{"route", "method", "code"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed ticket status transitions.",
		}, []string{"from", "to"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Committed escalations by level and source.",
		}, []string{"level", "source"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_scan_duration_seconds",
			Help:      "Duration of escalation scans.",
			Buckets:   prometheus.DefBuckets,
		}),
		scanErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_scan_errors_total",
			Help:      "Tickets that failed to evaluate during a scan.",
		}),
		scanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_scan_tickets_total",
			Help:      "Tickets evaluated by escalation scans.",
		}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordTransition counts one committed status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordEscalation counts one committed escalation entry.
func (m *Metrics) RecordEscalation(level int, source string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(strconv.Itoa(level), source).Inc()
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(duration time.Duration, scanned, failed int) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(duration.Seconds())
	m.scanned.Add(float64(scanned))
	m.scanErrors.Add(float64(failed))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
