// Package metrics holds the Prometheus collectors shared by the web front,
// the bill store API and the export worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	BillsListed      prometheus.Counter
	MalformedRecords prometheus.Counter
	Uploads          *prometheus.CounterVec
	Submits          *prometheus.CounterVec
	Exports          *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BillsListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_listed_total",
			Help:      "Bill records returned by list operations.",
		}),
		MalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_malformed_total",
			Help:      "Bill records shown unformatted because their date or status could not be formatted.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_uploads_total",
			Help:      "Attachment uploads by result.",
		}, []string{"result"}),
		Submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_submits_total",
			Help:      "Bill submissions by result.",
		}, []string{"result"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_exports_total",
			Help:      "Bills exported to the spreadsheet by result.",
		}, []string{"result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(
		m.BillsListed, m.MalformedRecords, m.Uploads, m.Submits, m.Exports, m.RequestDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func (m *Metrics) ObserveListed(total, malformed int) {
	if m == nil {
		return
	}
	m.BillsListed.Add(float64(total))
	m.MalformedRecords.Add(float64(malformed))
}

func (m *Metrics) ObserveUpload(err error) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveSubmit(err error) {
	if m == nil {
		return
	}
	m.Submits.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveExport(err error) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
