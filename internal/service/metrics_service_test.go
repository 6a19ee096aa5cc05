package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceFoldsUnknownEvents(t *testing.T) {
	m := NewMetricsService()
	m.ObserveRealtimeEvent("session_updated", RouteInvalidated)
	m.ObserveRealtimeEvent("made_up_event_1", RouteIgnored)
	m.ObserveRealtimeEvent("made_up_event_2", RouteIgnored)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeEvents.WithLabelValues("session_updated", RouteInvalidated)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.realtimeEvents.WithLabelValues("unknown", RouteIgnored)))
}

func TestMetricsServiceCalendarCounters(t *testing.T) {
	m := NewMetricsService()
	m.ObserveCalendarWrite("add", nil)
	m.ObserveCalendarWrite("add", errors.New("timeout"))
	m.ObserveCalendarSync(false)
	m.ObserveRefetch(RefetchFetched, 20*time.Millisecond)
	m.RecordCacheLookup(true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.calendarWrites.WithLabelValues("add", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.calendarSyncs.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheHits))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "query_cache_refetches_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveRealtimeEvent("session_updated", RoutePatched)
	m.ObserveCalendarSync(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
