package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/calendar/view", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/calendar/view", http.StatusOK, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveRender("month", time.Millisecond)
	m.SetActiveSessions(3)
	m.RecordClockTick(time.Now())

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30.0, snap.AverageRequestDurationMs, 0.001)
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 1e-9)
	assert.Equal(t, uint64(1), snap.Renders)
	assert.Equal(t, int64(3), snap.ActiveSessions)
	assert.Equal(t, uint64(1), snap.ClockTicks)
	assert.Positive(t, snap.Goroutines)
}

func TestMetricsServiceHandlerExposesCalendarCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveRender("week", time.Millisecond)
	m.RecordSkippedEvent("span")
	m.RecordPrefetch("queued")
	m.RecordExport("ics")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"calendar_render_duration_seconds",
		"calendar_events_skipped_total",
		"calendar_prefetch_jobs_total",
		"calendar_exports_total",
		"calendar_active_sessions",
	} {
		assert.Contains(t, body, name)
	}
}

func TestMetricsServiceNilReceiver(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
		m.RecordCacheOperation(true, time.Millisecond)
		m.ObserveCacheWrite(time.Millisecond)
		m.ObserveDBQuery("q", time.Millisecond)
		m.ObserveRender("day", time.Millisecond)
		m.SetActiveSessions(1)
		m.RecordClockTick(time.Now())
		m.RecordSkippedEvent("type")
		m.RecordPrefetch("done")
		m.RecordExport("csv")
	})
	assert.Zero(t, m.Snapshot().RequestsTotal)
}
