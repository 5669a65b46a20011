// Package metrics exposes Prometheus collectors for the problem list server.
//
// Metrics:
//   - ipl_findings_classified_total{status} - findings classified, by status
//   - ipl_region_fallback_total - findings that fell back to the "other" region
//   - ipl_problem_list_cache_total{result} - assembled list cache hits and misses
//   - ipl_mapping_reloads_total{table,result} - mapping table reloads
//   - ipl_http_requests_total{method,route,code} - HTTP requests served
//   - ipl_http_request_duration_seconds{method,route} - HTTP latency
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the server's metrics, registered on one registry.
type Collectors struct {
	gatherer prometheus.Gatherer

	FindingsClassified *prometheus.CounterVec
	RegionFallbacks    prometheus.Counter
	CacheLookups       *prometheus.CounterVec
	MappingReloads     *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// NewCollectors registers the collectors on reg. A nil reg uses a fresh
// registry so that tests and multiple servers never collide.
func NewCollectors(reg *prometheus.Registry) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collectors{
		gatherer: reg,
		FindingsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ipl_findings_classified_total",
			Help: "Findings classified, labeled by longitudinal status",
		}, []string{"status"}),
		RegionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "ipl_region_fallback_total",
			Help: "Findings whose region could not be resolved from the table or keywords",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ipl_problem_list_cache_total",
			Help: "Assembled problem list cache lookups, labeled hit or miss",
		}, []string{"result"}),
		MappingReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ipl_mapping_reloads_total",
			Help: "Mapping table reloads, labeled by table and result",
		}, []string{"table", "result"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ipl_http_requests_total",
			Help: "HTTP requests, labeled by method, route and status code",
		}, []string{"method", "route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ipl_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

// FindingClassified counts one classified finding.
func (c *Collectors) FindingClassified(status string) {
	c.FindingsClassified.WithLabelValues(status).Inc()
}

// RegionFallback counts one finding that landed in the fallback region.
func (c *Collectors) RegionFallback() { c.RegionFallbacks.Inc() }

// CacheResult counts one cache lookup.
func (c *Collectors) CacheResult(hit bool) {
	if hit {
		c.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.CacheLookups.WithLabelValues("miss").Inc()
}

// MappingReloaded counts one reload attempt of a mapping table.
func (c *Collectors) MappingReloaded(table string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.MappingReloads.WithLabelValues(table, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route template.
func (c *Collectors) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ctx.Request().Method
			code := strconv.Itoa(ctx.Response().Status)
			c.RequestsTotal.WithLabelValues(method, route, code).Inc()
			c.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
