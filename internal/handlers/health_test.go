package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/serving"
)

func TestHealthHandler_Health(t *testing.T) {
	front, manager := buildTestStack(t)
	handler := NewHealthHandler(zap.NewNop(), front)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "healthy", response.Services["model"].Status)

	// Removing the primary model turns the probe unhealthy.
	manager.Remove(config.PrimaryModelID)

	w = httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "unhealthy", response.Services["model"].Status)
	assert.NotEmpty(t, response.Services["model"].Message)
}

func TestHealthHandler_Ready(t *testing.T) {
	front, _ := buildTestStack(t)
	handler := NewHealthHandler(zap.NewNop(), front)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	handler.Ready(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ready", response["status"])
}

func TestHealthHandler_Status(t *testing.T) {
	front, _ := buildTestStack(t)
	handler := NewHealthHandler(zap.NewNop(), front)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	handler.Status(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status serving.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	require.Len(t, status.Models, 1)
	assert.Equal(t, config.PrimaryModelID, status.Models[0].ID)
	assert.True(t, status.Cache.Enabled)
	assert.Equal(t, 3, status.Config.TopK)
}
