package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubProber struct {
	latency time.Duration
	err     error
	stats   sql.DBStats
}

func (p stubProber) Probe(context.Context) (time.Duration, error) {
	return p.latency, p.err
}

func (p stubProber) Stats() sql.DBStats {
	return p.stats
}

type stubKeepAlive bool

func (k stubKeepAlive) Running() bool {
	return bool(k)
}

func serve(handler http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, http.NoBody)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthReportsDatabaseAndLastInsert(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stats := contacts.NewInsertStats()
	stats.RecordSuccess(12*time.Millisecond, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	handler, err := NewHTTPHandler(Dependencies{
		ContactService: &mockContactSubmitter{},
		Database: stubProber{
			latency: 3 * time.Millisecond,
			stats:   sql.DBStats{MaxOpenConnections: 5, OpenConnections: 2, InUse: 1, Idle: 1, WaitCount: 4},
		},
		InsertStats: stats,
		KeepAlive:   stubKeepAlive(true),
	})
	require.NoError(t, err)

	response := serve(handler, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, response.Code)
	assert.JSONEq(t, `{
		"status": "ok",
		"database": "ok",
		"databaseLatencyMs": 3,
		"pool": {"open": 2, "inUse": 1, "idle": 1, "maxOpen": 5, "waitCount": 4},
		"keepAlive": true,
		"lastInsertAt": "2026-05-01T10:00:00Z",
		"lastInsertMs": 12
	}`, response.Body.String())
}

func TestHealthDegradesWhenProbeFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.WarnLevel)
	handler, err := NewHTTPHandler(Dependencies{
		ContactService: &mockContactSubmitter{},
		Database:       stubProber{err: errors.New("connection refused")},
		Logger:         zap.New(core),
	})
	require.NoError(t, err)

	response := serve(handler, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, response.Code)
	assert.JSONEq(t, `{
		"status": "degraded",
		"database": "unavailable",
		"pool": {"open": 0, "inUse": 0, "idle": 0, "maxOpen": 0, "waitCount": 0}
	}`, response.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("health probe failed").Len())
}

func TestRequestIDIsIssuedOrPropagated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{ContactService: &mockContactSubmitter{}})
	require.NoError(t, err)

	issued := serve(handler, http.MethodGet, "/api/health", nil)
	assert.Len(t, issued.Header().Get(requestIDHeader), 36)

	propagated := serve(handler, http.MethodGet, "/api/health", map[string]string{requestIDHeader: "req-123"})
	assert.Equal(t, "req-123", propagated.Header().Get(requestIDHeader))

	oversized := strings.Repeat("x", maxRequestIDLength+1)
	replaced := serve(handler, http.MethodGet, "/api/health", map[string]string{requestIDHeader: oversized})
	assert.NotEqual(t, oversized, replaced.Header().Get(requestIDHeader))
}

func TestRequestLoggingWritesDebugEntry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	handler, err := NewHTTPHandler(Dependencies{ContactService: &mockContactSubmitter{}, Logger: zap.New(core)})
	require.NoError(t, err)

	serve(handler, http.MethodGet, "/api/health", map[string]string{requestIDHeader: "req-456"})

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/health", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, "req-456", fields["request_id"])
}

func TestMetricsEndpointIsOptional(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := metrics.NewRecorder()

	hidden, err := NewHTTPHandler(Dependencies{ContactService: &mockContactSubmitter{}, Metrics: recorder})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, serve(hidden, http.MethodGet, "/metrics", nil).Code)

	exposed, err := NewHTTPHandler(Dependencies{
		ContactService: &mockContactSubmitter{},
		Metrics:        recorder,
		ExposeMetrics:  true,
	})
	require.NoError(t, err)
	serve(exposed, http.MethodGet, "/api/health", nil)
	response := serve(exposed, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), `http_requests_total{method="GET",route="/api/health",status_code="200"}`)
}
