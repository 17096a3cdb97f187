package handlers

import (
	"errors"
	"net/http"

	"github.com/mealserve/mealserve/internal/services/inference"
	"github.com/mealserve/mealserve/internal/services/models"
	"github.com/mealserve/mealserve/internal/services/serving"
)

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// errorStatus maps a serving error to an HTTP status and a stable error type
// string. Unrecognized errors become plain 500s.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, inference.ErrInvalidImage):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, serving.ErrBatchTooLarge):
		return http.StatusBadRequest, "batch_too_large"
	case errors.Is(err, models.ErrModelNotFound):
		return http.StatusNotFound, "model_not_found"
	case errors.Is(err, serving.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, serving.ErrShutdown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, inference.ErrInferenceFailure):
		return http.StatusInternalServerError, "inference_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
