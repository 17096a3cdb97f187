package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/middleware"
	"github.com/mealserve/mealserve/internal/services/serving"
)

type HealthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthHandler struct {
	logger   *zap.Logger
	frontend *serving.Frontend
}

func NewHealthHandler(logger *zap.Logger, frontend *serving.Frontend) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		frontend: frontend,
	}
}

// Health probes the primary model with a synthetic image and reports the
// state of the shared cache alongside it. The service is unhealthy only when
// the model probe fails; a downed cache merely degrades.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "ok",
		Services: make(map[string]ServiceHealth),
	}

	probe := h.frontend.HealthCheck(r.Context())
	if probe.Healthy {
		response.Services["model"] = ServiceHealth{Status: "healthy"}
	} else {
		response.Services["model"] = ServiceHealth{Status: "unhealthy", Message: probe.Error}
		response.Status = "unhealthy"
	}

	status := h.frontend.Status()
	middleware.UpdateModelAvailability(probe.Model, modelVersion(status, probe.Model), probe.Healthy)
	if status.Cache.Local != nil {
		middleware.UpdateLocalCacheEntries(status.Cache.Local.Size)
	}

	if status.Cache.Enabled && status.Cache.Shared != nil {
		if status.Cache.Shared.Breaker.Open {
			response.Services["cache"] = ServiceHealth{Status: "unhealthy", Message: "Shared cache circuit open"}
			if response.Status == "ok" {
				response.Status = "degraded"
			}
		} else {
			response.Services["cache"] = ServiceHealth{Status: "healthy"}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ready reports whether the frontend accepts requests. Degraded still counts
// as ready, shutting down does not.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.frontend.Status().Status == "shutting_down" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready",
			"error":  "Frontend is shutting down",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ready",
	})
}

// Status serves the full operational snapshot: in-flight requests, queue
// depth, loaded models and cache statistics.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.frontend.Status()); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}

func modelVersion(status serving.Status, modelID string) string {
	for _, info := range status.Models {
		if info.ID == modelID {
			return info.Version
		}
	}
	return ""
}
