package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-class-sync/internal/dto"
)

// Refetch outcomes recorded by the query cache.
const (
	RefetchFetched   = "fetched"
	RefetchCollapsed = "collapsed"
	RefetchDiscarded = "discarded"
	RefetchFailed    = "failed"
)

// Realtime routing outcomes.
const (
	RouteInvalidated = "invalidated"
	RoutePatched     = "patched"
	RouteIgnored     = "ignored"
	RouteMalformed   = "malformed"
	RouteDropped     = "dropped"
)

// MetricsService encapsulates Prometheus instrumentation for the agent.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	refetches       *prometheus.CounterVec
	refetchLatency  prometheus.Observer
	realtimeEvents  *prometheus.CounterVec
	calendarWrites  *prometheus.CounterVec
	calendarSyncs   *prometheus.CounterVec
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "query_cache_hits_total",
		Help: "Total query cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "query_cache_misses_total",
		Help: "Total query cache misses",
	})

	refetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "query_cache_refetches_total",
		Help: "Query cache refetches by outcome",
	}, []string{"outcome"})

	refetchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_cache_refetch_seconds",
		Help:    "Latency of query cache refetches",
		Buckets: prometheus.DefBuckets,
	})

	realtimeEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Realtime events by name and routing outcome",
	}, []string{"event", "outcome"})

	calendarWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "device_calendar_writes_total",
		Help: "Device calendar writes by operation and result",
	}, []string{"op", "result"})

	calendarSyncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "device_calendar_syncs_total",
		Help: "Calendar reconciliation passes by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, refetches, refetchLatency, realtimeEvents, calendarWrites, calendarSyncs, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		refetches:       refetches,
		refetchLatency:  refetchLatency,
		realtimeEvents:  realtimeEvents,
		calendarWrites:  calendarWrites,
		calendarSyncs:   calendarSyncs,
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

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheLookup records a query cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveRefetch records a refetch outcome and, for completed fetches, its latency.
func (m *MetricsService) ObserveRefetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.refetchLatency.Observe(duration.Seconds())
	}
}

// ObserveRealtimeEvent counts a routed push event.
func (m *MetricsService) ObserveRealtimeEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(eventLabel(event), outcome).Inc()
}

// ObserveCalendarWrite counts one device calendar write.
func (m *MetricsService) ObserveCalendarWrite(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calendarWrites.WithLabelValues(op, result).Inc()
}

// ObserveCalendarSync counts a reconciliation pass.
func (m *MetricsService) ObserveCalendarSync(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "partial"
	}
	m.calendarSyncs.WithLabelValues(result).Inc()
}

// eventLabel folds names this build does not know into one label value.
func eventLabel(name string) string {
	switch name {
	case dto.EventEnrollmentStatusChanged, dto.EventRefundRequestStatusChanged,
		dto.EventSessionCreated, dto.EventSessionUpdated, dto.EventSessionDeleted:
		return name
	}
	return "unknown"
}
