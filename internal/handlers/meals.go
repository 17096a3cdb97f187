package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/middleware"
	"github.com/mealserve/mealserve/internal/services/serving"
)

type MealsHandler struct {
	logger   *zap.Logger
	frontend *serving.Frontend
}

func NewMealsHandler(logger *zap.Logger, frontend *serving.Frontend) *MealsHandler {
	return &MealsHandler{
		logger:   logger,
		frontend: frontend,
	}
}

// AnalyzeMeal classifies every photo of a meal, groups the detected foods by
// nutrition category and reports the balance of the meal along with
// suggestions for the categories it is missing.
func (h *MealsHandler) AnalyzeMeal(w http.ResponseWriter, r *http.Request) {
	in, err := readImages(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	middleware.RecordImageCount("/v1/meals/analyze", len(in.Images))

	start := time.Now()
	analysis, err := h.frontend.AnalyzeMeal(r.Context(), in.Model, in.Images)
	if err != nil {
		status, errType := errorStatus(err)
		model := in.Model
		if model == "" {
			model = config.PrimaryModelID
		}
		middleware.RecordError(errType, "/v1/meals/analyze")
		middleware.RecordPrediction(model, "none", "/v1/meals/analyze", "error")
		h.logger.Warn("Meal analysis failed",
			zap.String("model", model),
			zap.Int("images", len(in.Images)),
			zap.Error(err))
		h.sendError(w, status, errType, err.Error())
		return
	}

	middleware.RecordPrediction(analysis.ModelID, analysis.Source, "/v1/meals/analyze", "success")
	middleware.RecordPredictionLatency(analysis.ModelID, "/v1/meals/analyze", time.Since(start).Seconds())
	recordCacheOutcome(analysis.Source)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(analysis); err != nil {
		h.logger.Error("Failed to encode meal analysis response", zap.Error(err))
	}
}

func (h *MealsHandler) sendError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Message: message, Type: errType},
	}); err != nil {
		h.logger.Error("Failed to encode meal analysis error response", zap.Error(err))
	}
}
