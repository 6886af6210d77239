// Package metrics exposes Prometheus instrumentation for the manager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the manager. A private
// registry avoids duplicate-registration panics in tests.
type Metrics struct {
	ProbesTotal     *prometheus.CounterVec
	UploadsTotal    *prometheus.CounterVec
	UploadDuration  *prometheus.HistogramVec
	FailoversTotal  prometheus.Counter
	MonthlyCostUSD  *prometheus.GaugeVec
	HealthyBackends prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_probes_total",
				Help: "Health probes by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backupd_uploads_total",
				Help: "Artifact uploads by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		UploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backupd_upload_duration_seconds",
				Help:    "Upload latency per backend",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"backend"},
		),
		FailoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backupd_failovers_total",
				Help: "Completed failover promotions",
			},
		),
		MonthlyCostUSD: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backupd_monthly_cost_usd",
				Help: "Estimated monthly storage cost per backend",
			},
			[]string{"backend"},
		),
		HealthyBackends: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backupd_healthy_backends",
				Help: "Number of backends currently healthy",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ProbesTotal,
		m.UploadsTotal,
		m.UploadDuration,
		m.FailoversTotal,
		m.MonthlyCostUSD,
		m.HealthyBackends,
	)

	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
