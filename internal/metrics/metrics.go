package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SyncOpsTotal        *prometheus.CounterVec
	SyncPendingOps      prometheus.Gauge
	GenerationFallbacks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector with a fresh registry. Pass a prefix such
// as "tillbook" to namespace the series.
func New(prefix string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		SyncOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_sync_operations_total",
				Help: "Remote sync operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		SyncPendingOps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_sync_pending_operations",
				Help: "Local operations still waiting for the remote store after the last flush",
			},
		),
		GenerationFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_generation_fallbacks_total",
				Help: "Generation calls answered with a fallback result",
			},
			[]string{"operation"},
		),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// RecordSync counts one remote operation. A nil error counts as ok.
func (m *Metrics) RecordSync(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.SyncOpsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.SyncPendingOps.Set(float64(n))
}

func (m *Metrics) RecordFallback(operation string) {
	if m == nil {
		return
	}
	m.GenerationFallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
