package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/logger"
	"github.com/mealserve/mealserve/internal/router"
	"github.com/mealserve/mealserve/internal/services/cache"
	"github.com/mealserve/mealserve/internal/services/inference"
	"github.com/mealserve/mealserve/internal/services/models"
	"github.com/mealserve/mealserve/internal/services/nutrition"
	"github.com/mealserve/mealserve/internal/services/serving"
)

func main() {
	configPath := flag.String("config", "", "Path to config directory")
	flag.Parse()

	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Load the nutrition table. Enrichment is optional, a broken table only
	// costs the category fields in responses.
	var mapper *nutrition.Mapper
	if cfg.Nutrition.TablePath != "" {
		mapper, err = nutrition.Load(cfg.Nutrition.TablePath, log)
		if err != nil {
			log.Warn("Nutrition table unavailable, serving without enrichment",
				zap.String("path", cfg.Nutrition.TablePath),
				zap.Error(err))
			mapper = nil
		} else {
			log.Info("Nutrition table loaded",
				zap.Int("foods", mapper.Len()),
				zap.Int("skipped", mapper.Skipped()))
		}
	}

	// Connect the shared cache. Losing Redis degrades to local-only caching.
	shared := connectSharedCache(cfg, log)
	defer shared.Close()

	// Load every configured model. A checkpoint that does not load is fatal.
	opts := inference.Options{
		ConfidenceThreshold: cfg.Serving.ConfidenceThreshold,
		TopK:                cfg.Serving.TopK,
		MaxBatchSize:        cfg.Serving.MaxBatchSize,
	}
	manager := models.NewManager(mapper, opts, log)
	if err := manager.LoadFromConfig(cfg.Models); err != nil {
		log.Fatal("Failed to load models", zap.Error(err))
	}
	defer manager.Close()

	// Start the serving frontend. A warmup failure aborts startup.
	frontend := serving.New(cfg.Serving, cfg.Cache, manager, shared, mapper, log)
	if err := frontend.Start(context.Background()); err != nil {
		log.Fatal("Failed to start serving frontend", zap.Error(err))
	}

	mainRouter := router.NewRouter(cfg, log, frontend, manager)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mainRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed to start", zap.Error(err))
		}
	}()

	log.Info("mealserve started successfully",
		zap.Int("port", cfg.Server.Port),
		zap.Int("models", manager.Len()),
		zap.Bool("shared_cache", shared.Enabled()))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := frontend.Shutdown(ctx); err != nil {
		log.Error("Frontend forced to shutdown", zap.Error(err))
	}

	log.Info("Shutdown complete")
}

// connectSharedCache dials Redis and wires the shared prediction cache. Any
// failure leaves the shared tier disabled; serving continues on the local
// tier alone.
func connectSharedCache(cfg *config.Config, log *zap.Logger) *cache.SharedCache {
	if !cfg.Cache.Enabled {
		return cache.NewSharedCache(nil, nil, log)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cache.Connect(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("Shared cache unavailable, continuing with local cache only", zap.Error(err))
		return cache.NewSharedCache(nil, nil, log)
	}

	log.Info("Shared cache connected")
	return cache.NewSharedCache(client, cfg.Cache.TTL, log)
}
