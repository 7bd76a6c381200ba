// Package monitoring collects Prometheus metrics for the tool surface.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each Metrics value carries its own
// registry so parallel tests never collide on collector registration.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	SessionsActive prometheus.Gauge

	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_tool_calls_total",
				Help: "Total number of tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhost_tool_call_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{.005, .025, .1, .5, 1, 5, 30, 120},
			},
			[]string{"tool"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolhost_sessions_active",
				Help: "Number of live shell sessions",
			},
		),
	}
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "toolhost_uptime_seconds",
			Help: "Seconds since the service started",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	return m
}

// ObserveTool records one tool call.
func (m *Metrics) ObserveTool(tool, outcome string, elapsed time.Duration) {
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Middleware records per-request HTTP metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the scrape endpoint for this collector's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
