package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "synthesis-gateway", status.Service)
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	ok := func(context.Context) (bool, error) { return true, nil }

	rec := httptest.NewRecorder()
	ReadinessHandler(map[string]HealthCheckFunc{"engine": ok, "orchestrator": ok})(
		rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ready", status.Status)
	assert.Len(t, status.Dependencies, 2)
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	ok := func(context.Context) (bool, error) { return true, nil }
	down := func(context.Context) (bool, error) { return false, errors.New("engine unreachable") }

	rec := httptest.NewRecorder()
	ReadinessHandler(map[string]HealthCheckFunc{"engine": down, "orchestrator": ok})(
		rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "unhealthy", status.Dependencies["engine"].Status)
	assert.Equal(t, "engine unreachable", status.Dependencies["engine"].Message)
	assert.Equal(t, "healthy", status.Dependencies["orchestrator"].Status)
}
