package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API
// and the ledger flows.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	paymentsTotal   *prometheus.CounterVec
	settlements     prometheus.Counter
	prunedTotal     prometheus.Counter
	statementsTotal *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	paymentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Payment initiations by outcome",
	}, []string{"outcome"})

	settlements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_recorded_total",
		Help: "Settlement transactions appended to student records",
	})

	prunedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_pruned_total",
		Help: "Notifications dropped by age during reads",
	})

	statementsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statements_rendered_total",
		Help: "Statement render jobs by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, paymentsTotal, settlements, prunedTotal, statementsTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		paymentsTotal:   paymentsTotal,
		settlements:     settlements,
		prunedTotal:     prunedTotal,
		statementsTotal: statementsTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordPayment counts a payment initiation by outcome (initiated,
// rejected, unavailable).
func (m *MetricsService) RecordPayment(outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(outcome).Inc()
}

// RecordSettlement counts one appended settlement transaction.
func (m *MetricsService) RecordSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// RecordPruned counts notifications dropped by age.
func (m *MetricsService) RecordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedTotal.Add(float64(n))
}

// RecordStatement counts a statement render by outcome (completed, failed).
func (m *MetricsService) RecordStatement(outcome string) {
	if m == nil {
		return
	}
	m.statementsTotal.WithLabelValues(outcome).Inc()
}
