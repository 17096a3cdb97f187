package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Serving: ServingConfig{
			ConfidenceThreshold:   0.1,
			TopK:                  5,
			MaxBatchSize:          16,
			MaxBatchItems:         64,
			MaxConcurrentRequests: 8,
			WorkerCount:           4,
			RequestTimeout:        30 * time.Second,
			WarmupIterations:      2,
			BatchingEnabled:       true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			LocalSize: 256,
			TTL: map[string]time.Duration{
				CacheNamespaceInference: 24 * time.Hour,
				CacheNamespaceAnalysis:  time.Hour,
			},
		},
		Models: []ModelConfig{
			{ID: PrimaryModelID, Checkpoint: "models/primary.json"},
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.1, cfg.Serving.ConfidenceThreshold)
	assert.Equal(t, 5, cfg.Serving.TopK)
	assert.Equal(t, 16, cfg.Serving.MaxBatchSize)
	assert.Equal(t, 8, cfg.Serving.MaxConcurrentRequests)
	assert.True(t, cfg.Serving.BatchingEnabled)
	assert.Equal(t, 256, cfg.Cache.LocalSize)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL[CacheNamespaceInference])
	assert.Equal(t, time.Hour, cfg.Cache.TTL[CacheNamespaceAnalysis])

	// Defaults alone are not servable: the model list comes from the config file.
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_list")
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("rejects out-of-range threshold", func(t *testing.T) {
		cfg := validConfig()
		cfg.Serving.ConfidenceThreshold = 1.5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence_threshold")
	})

	t.Run("rejects zero top_k", func(t *testing.T) {
		cfg := validConfig()
		cfg.Serving.TopK = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero concurrency", func(t *testing.T) {
		cfg := validConfig()
		cfg.Serving.MaxConcurrentRequests = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects missing ttl namespace", func(t *testing.T) {
		cfg := validConfig()
		delete(cfg.Cache.TTL, CacheNamespaceAnalysis)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), CacheNamespaceAnalysis)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.TTL[CacheNamespaceInference] = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects duplicate model ids", func(t *testing.T) {
		cfg := validConfig()
		cfg.Models = append(cfg.Models, ModelConfig{ID: PrimaryModelID, Checkpoint: "x.json"})
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("rejects model without checkpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Models[0].Checkpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("requires the primary model", func(t *testing.T) {
		cfg := validConfig()
		cfg.Models[0].ID = "backup"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), PrimaryModelID)
	})
}
