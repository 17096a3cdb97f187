package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/services/models"
)

type ModelsHandler struct {
	logger  *zap.Logger
	manager *models.Manager
}

func NewModelsHandler(logger *zap.Logger, manager *models.Manager) *ModelsHandler {
	return &ModelsHandler{
		logger:  logger,
		manager: manager,
	}
}

// ListModels lists the loaded models with their versions and usage stats
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()

	response := map[string]interface{}{
		"object": "list",
		"data":   list,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode models response", zap.Error(err))
	}
}

// GetModel retrieves a single model's info without touching its usage stats
func (h *ModelsHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")

	for _, info := range h.manager.List() {
		if info.ID == id {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(info); err != nil {
				h.logger.Error("Failed to encode model response", zap.Error(err))
			}
			return
		}
	}

	h.sendError(w, http.StatusNotFound, "model_not_found", "unknown model: "+id)
}

func (h *ModelsHandler) sendError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Message: message, Type: errType},
	}); err != nil {
		h.logger.Error("Failed to encode models error response", zap.Error(err))
	}
}
