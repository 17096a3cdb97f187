package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/middleware"
	"github.com/mealserve/mealserve/internal/services/inference"
	"github.com/mealserve/mealserve/internal/services/serving"
)

type PredictHandler struct {
	logger   *zap.Logger
	frontend *serving.Frontend
}

func NewPredictHandler(logger *zap.Logger, frontend *serving.Frontend) *PredictHandler {
	return &PredictHandler{
		logger:   logger,
		frontend: frontend,
	}
}

type batchItemResponse struct {
	Predictions []inference.Prediction `json:"predictions"`
	Source      string                 `json:"source,omitempty"`
	Error       *APIError              `json:"error,omitempty"`
}

type batchResponse struct {
	Model        string              `json:"model"`
	ModelVersion string              `json:"model_version"`
	Items        []batchItemResponse `json:"items"`
}

// Predict classifies a single food image. The image arrives either as a
// multipart upload in the "image" field or base64 encoded in a JSON body.
// By default only the best prediction is returned; all_scores=true asks for
// the full top-k list.
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	in, err := readImages(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if len(in.Images) != 1 {
		h.sendError(w, http.StatusBadRequest, "invalid_request_error",
			"send exactly one image, or use /v1/predict/batch")
		return
	}
	middleware.RecordImageCount("/v1/predict", 1)

	start := time.Now()
	result, err := h.frontend.PredictSingle(r.Context(), in.Model, in.Images[0], in.AllScores)
	if err != nil {
		h.predictionError(w, in.Model, "/v1/predict", err)
		return
	}

	middleware.RecordPrediction(result.ModelID, result.Source, "/v1/predict", "success")
	middleware.RecordPredictionLatency(result.ModelID, "/v1/predict", time.Since(start).Seconds())
	recordCacheOutcome(result.Source)

	h.writeJSON(w, http.StatusOK, result)
}

// PredictBatch classifies a set of images in one request. Item i of the
// response always corresponds to image i of the request; a bad image fails
// its own item and nothing else.
func (h *PredictHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	in, err := readImages(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	middleware.RecordImageCount("/v1/predict/batch", len(in.Images))

	start := time.Now()
	result, err := h.frontend.PredictBatch(r.Context(), in.Model, in.Images, in.AllScores)
	if err != nil {
		h.predictionError(w, in.Model, "/v1/predict/batch", err)
		return
	}
	middleware.RecordPredictionLatency(result.ModelID, "/v1/predict/batch", time.Since(start).Seconds())

	resp := batchResponse{
		Model:        result.ModelID,
		ModelVersion: result.ModelVersion,
		Items:        make([]batchItemResponse, len(result.Items)),
	}
	for i, item := range result.Items {
		if item.Err != nil {
			_, errType := errorStatus(item.Err)
			middleware.RecordPrediction(result.ModelID, "none", "/v1/predict/batch", "error")
			resp.Items[i] = batchItemResponse{
				Error: &APIError{Message: item.Err.Error(), Type: errType},
			}
			continue
		}
		middleware.RecordPrediction(result.ModelID, item.Source, "/v1/predict/batch", "success")
		recordCacheOutcome(item.Source)
		resp.Items[i] = batchItemResponse{Predictions: item.Predictions, Source: item.Source}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// predictionError records metrics for a failed request and writes the
// mapped error response.
func (h *PredictHandler) predictionError(w http.ResponseWriter, model, endpoint string, err error) {
	status, errType := errorStatus(err)
	if model == "" {
		model = config.PrimaryModelID
	}
	middleware.RecordError(errType, endpoint)
	middleware.RecordPrediction(model, "none", endpoint, "error")
	h.logger.Warn("Prediction request failed",
		zap.String("model", model),
		zap.String("endpoint", endpoint),
		zap.Error(err))
	h.sendError(w, status, errType, err.Error())
}

func (h *PredictHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode prediction response", zap.Error(err))
	}
}

func (h *PredictHandler) sendError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Message: message, Type: errType},
	}); err != nil {
		h.logger.Error("Failed to encode prediction error response", zap.Error(err))
	}
}

// recordCacheOutcome translates a result source into per tier hit and miss
// counters. A shared hit implies a local miss, a computed result missed both.
func recordCacheOutcome(source string) {
	switch source {
	case serving.SourceLocalCache:
		middleware.RecordCacheHit("local")
	case serving.SourceSharedCache:
		middleware.RecordCacheMiss("local")
		middleware.RecordCacheHit("shared")
	case serving.SourceComputed:
		middleware.RecordCacheMiss("local")
		middleware.RecordCacheMiss("shared")
	}
}
