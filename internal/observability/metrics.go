package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service: HTTP traffic and
// ledger activity.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	workflows       *prometheus.CounterVec
	stockRejections *prometheus.CounterVec
	payments        prometheus.Counter
	paymentAmount   prometheus.Counter
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	workflows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_workflows_total",
		Help: "Finished movement workflows by event type and final status.",
	}, []string{"event", "status"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_stock_rejections_total",
		Help: "Movements refused for insufficient stock by event type.",
	}, []string{"event"})
	payments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ar_payments_total",
		Help: "Payments applied to receivables.",
	})
	amount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ar_payment_amount_total",
		Help: "Sum of payment amounts applied to receivables.",
	})
	registry.MustRegister(requests, duration, workflows, rejections, payments, amount)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		workflows:       workflows,
		stockRejections: rejections,
		payments:        payments,
		paymentAmount:   amount,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every request by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// WorkflowFinished counts a closed movement workflow.
func (m *Metrics) WorkflowFinished(event, status string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(event, status).Inc()
}

// StockRejected counts a movement refused before any write.
func (m *Metrics) StockRejected(event string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(event).Inc()
}

// PaymentApplied counts one settlement against a receivable.
func (m *Metrics) PaymentApplied(amount float64) {
	if m == nil {
		return
	}
	m.payments.Inc()
	if amount > 0 {
		m.paymentAmount.Add(amount)
	}
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
