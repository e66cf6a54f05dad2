// Package metrics exposes Prometheus collectors for circulation operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	loansOpen    prometheus.Gauge
	loansOverdue prometheus.Gauge
	finesCents   prometheus.Counter
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "circulation",
			Name:      "operations_total",
			Help:      "Circulation operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		loansOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "circulation",
			Name:      "loans_open",
			Help:      "Loans currently out.",
		}),
		loansOverdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "circulation",
			Name:      "loans_overdue",
			Help:      "Open loans past their due date.",
		}),
		finesCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "circulation",
			Name:      "fines_assessed_cents_total",
			Help:      "Total assessed fine amount in cents.",
		}),
	}
	m.registry.MustRegister(m.operations, m.loansOpen, m.loansOverdue, m.finesCents)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Operation records one operation outcome. outcome is "ok" or the error
// kind string.
func (m *Metrics) Operation(name, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}

// SetLoanGauges updates the open and overdue loan gauges.
func (m *Metrics) SetLoanGauges(open, overdue int) {
	if m == nil {
		return
	}
	m.loansOpen.Set(float64(open))
	m.loansOverdue.Set(float64(overdue))
}

// FineAssessed adds an assessed amount to the running total.
func (m *Metrics) FineAssessed(amountCents int64) {
	if m == nil {
		return
	}
	m.finesCents.Add(float64(amountCents))
}
