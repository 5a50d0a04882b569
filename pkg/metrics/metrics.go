// Package metrics exposes Prometheus instruments for report imports and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingestion service collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	stageDuration *prometheus.HistogramVec
	files         *prometheus.CounterVec
	records       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, so several instances can coexist in tests.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_ingest_stage_duration_seconds",
			Help:    "Duration of each import stage by report kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "stage"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ingest_files_total",
			Help: "Imported files by report kind and status.",
		}, []string{"kind", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ingest_records_total",
			Help: "Ledger records by report kind and reconcile action.",
		}, []string{"kind", "action"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_ingest_batch_duration_seconds",
			Help:    "Duration of inbox sweeps.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ingest_api_requests_total",
			Help: "API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_ingest_api_duration_seconds",
			Help:    "API request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.stageDuration,
		m.files,
		m.records,
		m.batchDuration,
		m.apiRequests,
		m.apiDuration,
	)
	return m
}

// ObserveStage records how long one import stage took
func (m *Metrics) ObserveStage(kind, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(kind, stage).Observe(d.Seconds())
}

// RecordFile counts a finished file import
func (m *Metrics) RecordFile(kind, status string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(kind, status).Inc()
}

// AddRecords counts ledger records handled with one reconcile action
func (m *Metrics) AddRecords(kind, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(kind, action).Add(float64(n))
}

// ObserveBatch records the duration of one inbox sweep
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// ObserveRequest records one API request
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registered collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
