package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("redis")
	m.ObserveRun("debounce", time.Second, true, time.Now())
	m.ObserveCoalesced(3)
	m.SetState(2)
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("debounce", 2*time.Second, true, time.Unix(1700000000, 0))
	m.ObserveRun("debounce", time.Second, false, time.Unix(1700000100, 0))
	m.ObserveEvent("redis")
	m.ObserveEvent("redis")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("debounce", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("debounce", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("redis")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccess))
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveEvent("fs")

	h := NewRouter(reg, func() any { return map[string]string{"state": "idle"} })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `mirrorwatch_events_total{source="fs"} 1`))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"state": "idle"}, body["coordinator"])
}
