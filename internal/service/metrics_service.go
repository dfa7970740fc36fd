package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the delivery
// engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ticketsCreated  prometheus.Counter
	dispatchTotal   *prometheus.CounterVec
	eventsPushed    prometheus.Counter
	connections     prometheus.Gauge
	queueDepth      prometheus.GaugeFunc
}

// NewMetricsService registers the engine's Prometheus collectors. queueDepth
// may be nil when the in-process queue is not in use.
func NewMetricsService(queueDepth func() float64) *MetricsService {
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

	ticketsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_tickets_created_total",
		Help: "Total delivery tickets created by orchestration",
	})

	dispatchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_dispatch_total",
		Help: "Dispatch outcomes by medium and result",
	}, []string{"medium", "result"})

	eventsPushed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_events_pushed_total",
		Help: "Total events pushed to live connections",
	})

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_connections",
		Help: "Currently open live connections",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ticketsCreated, dispatchTotal, eventsPushed, connections, goroutines)

	m := &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ticketsCreated:  ticketsCreated,
		dispatchTotal:   dispatchTotal,
		eventsPushed:    eventsPushed,
		connections:     connections,
	}

	if queueDepth != nil {
		m.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Jobs waiting in the in-process dispatch queue",
		}, queueDepth)
		registry.MustRegister(m.queueDepth)
	}

	return m
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

// TicketsCreated counts tickets created by an orchestration pass.
func (m *MetricsService) TicketsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ticketsCreated.Add(float64(n))
}

// DispatchResult counts one dispatch outcome.
func (m *MetricsService) DispatchResult(medium models.MediumType, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.dispatchTotal.WithLabelValues(string(medium), result).Inc()
}

// EventPushed counts one event delivered to a live connection.
func (m *MetricsService) EventPushed() {
	if m == nil {
		return
	}
	m.eventsPushed.Inc()
}

// ConnectionOpened tracks a new live connection.
func (m *MetricsService) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a dropped live connection.
func (m *MetricsService) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
