package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/handlers"
	"github.com/mealserve/mealserve/internal/middleware"
	"github.com/mealserve/mealserve/internal/services/models"
	"github.com/mealserve/mealserve/internal/services/serving"
)

func NewRouter(cfg *config.Config, logger *zap.Logger, frontend *serving.Frontend, manager *models.Manager) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.MetricsMiddleware(logger))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	predictHandler := handlers.NewPredictHandler(logger, frontend)
	mealsHandler := handlers.NewMealsHandler(logger, frontend)
	modelsHandler := handlers.NewModelsHandler(logger, manager)
	healthHandler := handlers.NewHealthHandler(logger, frontend)

	// Health checks
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Serving API
	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict", predictHandler.Predict)
		r.Post("/predict/batch", predictHandler.PredictBatch)
		r.Post("/meals/analyze", mealsHandler.AnalyzeMeal)

		r.Get("/models", modelsHandler.ListModels)
		r.Get("/models/{model}", modelsHandler.GetModel)

		r.Get("/status", healthHandler.Status)
	})

	// Not found handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte(`{"error": {"message": "Not found", "type": "invalid_request_error", "code": "not_found"}}`)); err != nil {
			logger.Error("Failed to write 404 response", zap.Error(err))
		}
	})

	return r
}
