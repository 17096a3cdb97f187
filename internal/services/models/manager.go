package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/inference"
	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// ErrModelNotFound is returned when a request names a model id that is not
// registered.
var ErrModelNotFound = errors.New("model not found")

// latencyAlpha weighs the newest observation in the rolling latency average.
const latencyAlpha = 0.1

// Handle owns one loaded engine together with its usage statistics. Latency
// and request counters are guarded by the manager's mutex; LastUsed is atomic
// so lookups never need the write lock.
type Handle struct {
	ID     string
	Engine *inference.Engine

	lastUsed atomic.Int64

	requestCount int64
	avgLatency   time.Duration
	loadedAt     time.Time
}

func (h *Handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// Info is a point-in-time snapshot of one model's identity and usage.
type Info struct {
	ID           string    `json:"id"`
	Version      string    `json:"version"`
	Tag          string    `json:"tag,omitempty"`
	NumClasses   int       `json:"num_classes"`
	InputSize    int       `json:"input_size"`
	RequestCount int64     `json:"request_count"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastUsed     time.Time `json:"last_used,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// Manager is the registry of loaded models. All reads and writes go through
// its one RWMutex, so callers never observe a half-registered model.
type Manager struct {
	mu     sync.RWMutex
	models map[string]*Handle

	mapper *nutrition.Mapper
	opts   inference.Options
	logger *zap.Logger
}

func NewManager(mapper *nutrition.Mapper, opts inference.Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		models: make(map[string]*Handle),
		mapper: mapper,
		opts:   opts,
		logger: logger,
	}
}

// LoadFromConfig loads every configured model. Any failure is returned
// immediately so startup can abort instead of serving a partial registry.
func (m *Manager) LoadFromConfig(cfgs []config.ModelConfig) error {
	for _, cfg := range cfgs {
		if err := m.Load(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Load deserializes one model and registers it, replacing and closing any
// previous engine under the same id.
func (m *Manager) Load(cfg config.ModelConfig) error {
	engine, err := inference.LoadEngine(cfg, m.mapper, m.opts, m.logger)
	if err != nil {
		return fmt.Errorf("load model %s: %w", cfg.ID, err)
	}
	m.Register(cfg.ID, engine)
	return nil
}

// Register installs an already constructed engine under the given id,
// replacing and closing any previous one.
func (m *Manager) Register(id string, engine *inference.Engine) {
	handle := &Handle{
		ID:       id,
		Engine:   engine,
		loadedAt: time.Now(),
	}

	m.mu.Lock()
	previous := m.models[id]
	m.models[id] = handle
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Engine.Close(); err != nil {
			m.logger.Warn("Failed to close replaced engine",
				zap.String("model", id), zap.Error(err))
		}
	}

	m.logger.Info("Registered model",
		zap.String("model", id),
		zap.String("version", engine.Version()),
		zap.Int("classes", engine.NumClasses()))
}

// Get looks up a model handle and stamps its last-used time.
func (m *Manager) Get(id string) (*Handle, error) {
	m.mu.RLock()
	handle, ok := m.models[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	handle.touch()
	return handle, nil
}

// RecordUsage folds one observed latency into the model's rolling average.
// The first observation sets the average directly; afterwards each new value
// contributes a fixed tenth.
func (m *Manager) RecordUsage(id string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.models[id]
	if !ok {
		return
	}
	handle.requestCount++
	if handle.requestCount == 1 {
		handle.avgLatency = latency
		return
	}
	handle.avgLatency = time.Duration(
		latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(handle.avgLatency))
}

// Remove unregisters a model and closes its engine.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	handle, ok := m.models[id]
	delete(m.models, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if err := handle.Engine.Close(); err != nil {
		m.logger.Warn("Failed to close engine", zap.String("model", id), zap.Error(err))
	}
	m.logger.Info("Removed model", zap.String("model", id))
	return nil
}

// List snapshots every registered model, sorted by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.models))
	for _, h := range m.models {
		info := Info{
			ID:           h.ID,
			Version:      h.Engine.Version(),
			Tag:          h.Engine.Tag(),
			NumClasses:   h.Engine.NumClasses(),
			InputSize:    h.Engine.InputSize(),
			RequestCount: h.requestCount,
			AvgLatencyMS: float64(h.avgLatency) / float64(time.Millisecond),
			LoadedAt:     h.loadedAt,
		}
		if nanos := h.lastUsed.Load(); nanos > 0 {
			info.LastUsed = time.Unix(0, nanos)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len reports how many models are registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.models)
}

// WarmupAll pushes synthetic traffic through every registered model. The
// first failing model aborts the pass.
func (m *Manager) WarmupAll(ctx context.Context, iterations int) error {
	if iterations <= 0 {
		return nil
	}
	for _, info := range m.List() {
		handle, err := m.Get(info.ID)
		if err != nil {
			continue
		}
		start := time.Now()
		if err := handle.Engine.Warmup(ctx, iterations); err != nil {
			return fmt.Errorf("model %s: %w", info.ID, err)
		}
		m.logger.Info("Warmed up model",
			zap.String("model", info.ID),
			zap.Int("iterations", iterations),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}

// Close shuts down every engine. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.models {
		if err := h.Engine.Close(); err != nil {
			m.logger.Warn("Failed to close engine", zap.String("model", id), zap.Error(err))
		}
		delete(m.models, id)
	}
}
