package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzReportsConnection(t *testing.T) {
	s := NewServer("", func() any { return nil }, func() bool { return true }, NewMetrics(), slog.Default())

	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Connected)
}

func TestStateServesSnapshot(t *testing.T) {
	snapshot := map[string]any{"authority": "backup", "volume": 55}
	s := NewServer("", func() any { return snapshot }, func() bool { return false }, NewMetrics(), slog.Default())

	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authority":"backup","volume":55}`, rec.Body.String())
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.FailoverCycles.Inc()
	m.Connected.Set(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "display_failover_cycles_total 1")
	assert.Contains(t, rec.Body.String(), "display_channel_connected 1")
}
