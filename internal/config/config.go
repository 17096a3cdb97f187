package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Cache namespaces the serving core stores under. Every namespace listed here
// must have a TTL entry in the cache config; Validate enforces that.
const (
	CacheNamespaceInference = "inference"
	CacheNamespaceAnalysis  = "analysis"
)

// CacheNamespaces enumerates the namespaces the core uses.
var CacheNamespaces = []string{CacheNamespaceInference, CacheNamespaceAnalysis}

// PrimaryModelID is the model id requests fall back to when none is given.
// Startup refuses to serve without it.
const PrimaryModelID = "primary"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Serving   ServingConfig   `mapstructure:"serving"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Nutrition NutritionConfig `mapstructure:"nutrition"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`

	Models []ModelConfig `mapstructure:"model_list"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ServingConfig is fixed at startup and shared read-only by the engine, the
// model registry and the frontend.
type ServingConfig struct {
	ConfidenceThreshold   float64       `mapstructure:"confidence_threshold"`
	TopK                  int           `mapstructure:"top_k"`
	MaxBatchSize          int           `mapstructure:"max_batch_size"`
	MaxBatchItems         int           `mapstructure:"max_batch_items"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	WorkerCount           int           `mapstructure:"worker_count"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	WarmupIterations      int           `mapstructure:"warmup_iterations"`
	BatchingEnabled       bool          `mapstructure:"batching_enabled"`
}

type CacheConfig struct {
	Enabled   bool                     `mapstructure:"enabled"`
	LocalSize int                      `mapstructure:"local_size"`
	TTL       map[string]time.Duration `mapstructure:"ttl"`
}

type NutritionConfig struct {
	TablePath string `mapstructure:"table_path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// ModelConfig describes one model to load at startup. Checkpoints ending in
// .onnx run on the ONNX backend; everything else is read as a state-dict
// checkpoint. ClassesFile is only consulted for ONNX models.
type ModelConfig struct {
	ID          string `mapstructure:"id"`
	Checkpoint  string `mapstructure:"checkpoint"`
	InputSize   int    `mapstructure:"input_size"`
	ClassesFile string `mapstructure:"classes_file"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/mealserve")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg = &config
	return cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")

	// Redis defaults
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 50)

	// Serving defaults
	viper.SetDefault("serving.confidence_threshold", 0.1)
	viper.SetDefault("serving.top_k", 5)
	viper.SetDefault("serving.max_batch_size", 16)
	viper.SetDefault("serving.max_batch_items", 64)
	viper.SetDefault("serving.max_concurrent_requests", 8)
	viper.SetDefault("serving.worker_count", 4)
	viper.SetDefault("serving.request_timeout", "30s")
	viper.SetDefault("serving.warmup_iterations", 2)
	viper.SetDefault("serving.batching_enabled", true)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.local_size", 256)
	viper.SetDefault("cache.ttl.inference", "24h")
	viper.SetDefault("cache.ttl.analysis", "1h")

	// Nutrition defaults
	viper.SetDefault("nutrition.table_path", "nutrition_table.json")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.output_path", "")

	// CORS defaults
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 86400)
}

func bindEnvVars() {
	// Server
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	_ = viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	_ = viper.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")

	// Redis
	_ = viper.BindEnv("redis.url", "REDIS_URL")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")

	// Serving
	_ = viper.BindEnv("serving.confidence_threshold", "SERVING_CONFIDENCE_THRESHOLD")
	_ = viper.BindEnv("serving.top_k", "SERVING_TOP_K")
	_ = viper.BindEnv("serving.max_batch_size", "SERVING_MAX_BATCH_SIZE")
	_ = viper.BindEnv("serving.max_concurrent_requests", "SERVING_MAX_CONCURRENT_REQUESTS")
	_ = viper.BindEnv("serving.worker_count", "SERVING_WORKER_COUNT")
	_ = viper.BindEnv("serving.request_timeout", "SERVING_REQUEST_TIMEOUT")
	_ = viper.BindEnv("serving.warmup_iterations", "SERVING_WARMUP_ITERATIONS")

	// Cache
	_ = viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = viper.BindEnv("cache.local_size", "CACHE_LOCAL_SIZE")

	// Nutrition
	_ = viper.BindEnv("nutrition.table_path", "NUTRITION_TABLE")

	// Logging
	_ = viper.BindEnv("logging.level", "LOG_LEVEL")
	_ = viper.BindEnv("logging.format", "LOG_FORMAT")

	// CORS
	_ = viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("cors.allowed_methods", "CORS_ALLOWED_METHODS")
	_ = viper.BindEnv("cors.allowed_headers", "CORS_ALLOWED_HEADERS")
}

// Validate rejects configurations the serving core cannot run with. Called
// once at startup, after Load.
func (c *Config) Validate() error {
	s := c.Serving
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("serving.confidence_threshold must be in [0,1], got %v", s.ConfidenceThreshold)
	}
	if s.TopK < 1 {
		return fmt.Errorf("serving.top_k must be >= 1, got %d", s.TopK)
	}
	if s.MaxBatchSize < 1 {
		return fmt.Errorf("serving.max_batch_size must be >= 1, got %d", s.MaxBatchSize)
	}
	if s.MaxBatchItems < 1 {
		return fmt.Errorf("serving.max_batch_items must be >= 1, got %d", s.MaxBatchItems)
	}
	if s.MaxConcurrentRequests < 1 {
		return fmt.Errorf("serving.max_concurrent_requests must be >= 1, got %d", s.MaxConcurrentRequests)
	}
	if s.WorkerCount < 1 {
		return fmt.Errorf("serving.worker_count must be >= 1, got %d", s.WorkerCount)
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("serving.request_timeout must not be negative, got %v", s.RequestTimeout)
	}
	if s.WarmupIterations < 0 {
		return fmt.Errorf("serving.warmup_iterations must not be negative, got %d", s.WarmupIterations)
	}

	if c.Cache.LocalSize < 1 {
		return fmt.Errorf("cache.local_size must be >= 1, got %d", c.Cache.LocalSize)
	}
	for _, ns := range CacheNamespaces {
		ttl, ok := c.Cache.TTL[ns]
		if !ok {
			return fmt.Errorf("cache.ttl is missing namespace %q", ns)
		}
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive, got %v", ns, ttl)
		}
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("model_list must contain at least one model")
	}
	seen := make(map[string]bool, len(c.Models))
	hasPrimary := false
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model_list[%d] is missing an id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("model_list contains duplicate id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Checkpoint == "" {
			return fmt.Errorf("model %q is missing a checkpoint path", m.ID)
		}
		if m.InputSize < 0 {
			return fmt.Errorf("model %q input_size must not be negative", m.ID)
		}
		if m.ID == PrimaryModelID {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return fmt.Errorf("model_list must define the %q model", PrimaryModelID)
	}

	return nil
}

func Get() *Config {
	return cfg
}
