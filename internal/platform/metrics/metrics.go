// Package metrics exposes Prometheus collectors for HTTP traffic and for
// the payment ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
)

const namespace = "clinicdesk"

// Collector owns a private registry so several instances can coexist in
// tests.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	payments      *prometheus.CounterVec
	paymentAmount prometheus.Counter
	transitions   *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	dbPoolConns   *prometheus.GaugeVec
}

func New() *Collector {
	m := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_payments_total",
			Help:      "Payments recorded or deleted",
		}, []string{"op"}),
		paymentAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_payment_amount_total",
			Help:      "Sum of recorded payment amounts",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patient_status_transitions_total",
			Help:      "Patient status changes",
		}, []string{"from", "to"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audited data accesses",
		}, []string{"resource", "action"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_login_attempts_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		dbPoolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Database pool connections by state",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.payments,
		m.paymentAmount,
		m.transitions,
		m.auditEvents,
		m.loginAttempts,
		m.dbPoolConns,
	)
	return m
}

// Middleware records request count and latency per route template.
func (m *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Collector) PaymentRecorded(amount decimal.Decimal) {
	m.payments.WithLabelValues("recorded").Inc()
	m.paymentAmount.Add(amount.InexactFloat64())
}

func (m *Collector) PaymentDeleted() {
	m.payments.WithLabelValues("deleted").Inc()
}

func (m *Collector) StatusChanged(from, to string) {
	if from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Collector) LoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// SetPoolConns publishes database pool gauges.
func (m *Collector) SetPoolConns(total, idle, acquired int32) {
	m.dbPoolConns.WithLabelValues("total").Set(float64(total))
	m.dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	m.dbPoolConns.WithLabelValues("acquired").Set(float64(acquired))
}

// RecordAccess implements middleware.AuditRecorder.
func (m *Collector) RecordAccess(entry middleware.AuditEntry) error {
	m.auditEvents.WithLabelValues(entry.Resource, entry.Action).Inc()
	return nil
}

var _ middleware.AuditRecorder = (*Collector)(nil)
