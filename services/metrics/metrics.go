package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the app collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	auditFallback prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_breakglass_transitions_total",
				Help: "Break-glass state transitions by action and status.",
			},
			[]string{"action", "status"},
		),
		auditFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "masomo_audit_fallback_total",
			Help: "Audit entries that could not be persisted and were only logged.",
		}),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masomo_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "masomo_http_request_duration_seconds",
				Help:    "HTTP request duration by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) ObserveTransition(action, status string) {
	m.transitions.WithLabelValues(action, status).Inc()
}

// AuditFallback counts the audit entries that only reached the logs.
func (m *Metrics) AuditFallback() prometheus.Counter {
	return m.auditFallback
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records every request under its route template, keeping path labels bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			// errors are handled here so the recorded status is the one written by the error handler
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}

			status := ctx.Response().Status
			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}

			m.httpRequests.WithLabelValues(ctx.Request().Method, path, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(ctx.Request().Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
