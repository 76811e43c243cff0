// Package metrics holds the Prometheus instrumentation of the engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records calculation, propagation, batch, cache and HTTP metrics
// on a private registry. A nil *Collector is a valid no-op.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	calculations        *prometheus.CounterVec
	calculationDuration prometheus.Histogram
	propagations        *prometheus.CounterVec
	batchRows           *prometheus.CounterVec
	batchDuration       *prometheus.HistogramVec
	cacheLookups        *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
}

// NewCollector registers the engine collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	calculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insurance_calculations_total",
		Help: "Social insurance calculations by outcome",
	}, []string{"status"})

	calculationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "insurance_calculation_duration_seconds",
		Help:    "Duration of one employee's social insurance calculation",
		Buckets: prometheus.DefBuckets,
	})

	propagations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_propagations_total",
		Help: "Payroll total propagations, by whether the totals changed",
	}, []string{"changed"})

	batchRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_rows_total",
		Help: "Batch rows processed by kind and status",
	}, []string{"kind", "status"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Duration of batch calculation and recalculation runs",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
	}, []string{"kind"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preview_cache_lookups_total",
		Help: "Calculation preview cache lookups by result",
	}, []string{"result"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	registry.MustRegister(
		calculations, calculationDuration, propagations, batchRows, batchDuration,
		cacheLookups, requestDuration, requestTotal,
		collectors.NewGoCollector(),
	)

	return &Collector{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		calculations:        calculations,
		calculationDuration: calculationDuration,
		propagations:        propagations,
		batchRows:           batchRows,
		batchDuration:       batchDuration,
		cacheLookups:        cacheLookups,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return c.handler
}

func (c *Collector) ObserveCalculation(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.calculations.WithLabelValues(status).Inc()
	c.calculationDuration.Observe(duration.Seconds())
}

func (c *Collector) ObservePropagation(changed bool) {
	if c == nil {
		return
	}
	c.propagations.WithLabelValues(fmt.Sprintf("%t", changed)).Inc()
}

func (c *Collector) ObserveBatch(kind string, succeeded, failed int, duration time.Duration) {
	if c == nil {
		return
	}
	c.batchRows.WithLabelValues(kind, "success").Add(float64(succeeded))
	c.batchRows.WithLabelValues(kind, "error").Add(float64(failed))
	c.batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveCacheLookup counts preview cache hits and misses.
func (c *Collector) ObserveCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records one request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (c *Collector) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	c.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	c.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}
