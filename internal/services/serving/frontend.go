package serving

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/cache"
	"github.com/mealserve/mealserve/internal/services/inference"
	"github.com/mealserve/mealserve/internal/services/models"
	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// Result provenance values reported alongside predictions.
const (
	SourceLocalCache  = "local_cache"
	SourceSharedCache = "shared_cache"
	SourceComputed    = "computed"
)

// PredictResult is the outcome of classifying one image.
type PredictResult struct {
	ModelID      string                 `json:"model_id"`
	ModelVersion string                 `json:"model_version"`
	Source       string                 `json:"source"`
	Predictions  []inference.Prediction `json:"predictions"`
}

// ItemResult is one image's outcome inside a batch.
type ItemResult struct {
	Predictions []inference.Prediction `json:"predictions"`
	Source      string                 `json:"source,omitempty"`
	Err         error                  `json:"-"`
}

// BatchResult is the outcome of a batch request, item i matching input i.
type BatchResult struct {
	ModelID      string       `json:"model_id"`
	ModelVersion string       `json:"model_version"`
	Items        []ItemResult `json:"items"`
}

// Health is the outcome of a synthetic inference probe.
type Health struct {
	Healthy   bool    `json:"healthy"`
	Model     string  `json:"model"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Frontend is the serving entry point. It owns admission control, the worker
// pool that keeps forward passes off request goroutines, and the two cache
// tiers in front of the engines. Everything it needs arrives through the
// constructor, so tests can build as many independent frontends as they like.
type Frontend struct {
	cfg     config.ServingConfig
	manager *models.Manager
	mapper  *nutrition.Mapper
	local   *cache.LocalCache
	shared  *cache.SharedCache
	pool    *Pool
	sem     chan struct{}
	logger  *zap.Logger

	cacheOn bool
	started time.Time
	closed  atomic.Bool
}

func New(cfg config.ServingConfig, cacheCfg config.CacheConfig, manager *models.Manager,
	shared *cache.SharedCache, mapper *nutrition.Mapper, logger *zap.Logger) *Frontend {

	if logger == nil {
		logger = zap.NewNop()
	}
	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	var local *cache.LocalCache
	if cacheCfg.Enabled {
		local = cache.NewLocalCache(cacheCfg.LocalSize)
	}

	return &Frontend{
		cfg:     cfg,
		manager: manager,
		mapper:  mapper,
		local:   local,
		shared:  shared,
		pool:    NewPool(cfg.WorkerCount, maxConcurrent, logger),
		sem:     make(chan struct{}, maxConcurrent),
		logger:  logger,
		cacheOn: cacheCfg.Enabled,
	}
}

// Start launches the workers and warms every registered model. A warmup
// failure is returned so startup can abort.
func (f *Frontend) Start(ctx context.Context) error {
	f.started = time.Now()
	f.pool.Start()
	if err := f.manager.WarmupAll(ctx, f.cfg.WarmupIterations); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for the in-flight ones to release
// their admission slots, then stops the workers. The context bounds the wait.
func (f *Frontend) Shutdown(ctx context.Context) error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.logger.Info("Shutting down serving frontend")

	for i := 0; i < cap(f.sem); i++ {
		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			f.pool.Stop()
			return ctx.Err()
		}
	}
	f.pool.Stop()
	return nil
}

// PredictSingle classifies one image. An empty prediction list with a nil
// error means nothing scored above the confidence threshold. With allScores
// false only the best prediction comes back; the caches keep the full top-k
// list either way.
func (f *Frontend) PredictSingle(ctx context.Context, modelID string, image []byte, allScores bool) (*PredictResult, error) {
	if f.closed.Load() {
		return nil, ErrShutdown
	}
	handle, err := f.resolveModel(modelID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := f.requestContext(ctx)
	defer cancel()

	release, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	items, err := f.classify(ctx, handle, [][]byte{image})
	if err != nil {
		return nil, err
	}
	if items[0].Err != nil {
		return nil, items[0].Err
	}
	preds := items[0].Predictions
	if !allScores {
		preds = topOnly(preds)
	}
	return &PredictResult{
		ModelID:      handle.ID,
		ModelVersion: handle.Engine.Version(),
		Source:       items[0].Source,
		Predictions:  preds,
	}, nil
}

// PredictBatch classifies a set of images. With batching enabled the whole
// request takes one admission slot and misses run through chunked forward
// passes; with batching disabled each image becomes its own bounded single
// request. Either way item i always belongs to input i.
func (f *Frontend) PredictBatch(ctx context.Context, modelID string, images [][]byte, allScores bool) (*BatchResult, error) {
	if f.closed.Load() {
		return nil, ErrShutdown
	}
	if f.cfg.MaxBatchItems > 0 && len(images) > f.cfg.MaxBatchItems {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(images), f.cfg.MaxBatchItems)
	}
	handle, err := f.resolveModel(modelID)
	if err != nil {
		return nil, err
	}

	if !f.cfg.BatchingEnabled {
		return f.fanOutSingles(ctx, handle.ID, images, allScores)
	}

	ctx, cancel := f.requestContext(ctx)
	defer cancel()

	release, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	items, err := f.classify(ctx, handle, images)
	if err != nil {
		return nil, err
	}
	if !allScores {
		for i := range items {
			items[i].Predictions = topOnly(items[i].Predictions)
		}
	}
	return &BatchResult{
		ModelID:      handle.ID,
		ModelVersion: handle.Engine.Version(),
		Items:        items,
	}, nil
}

// fanOutSingles runs every image as an independent single prediction. The
// admission semaphore still applies per image, so concurrency stays bounded.
func (f *Frontend) fanOutSingles(ctx context.Context, modelID string, images [][]byte, allScores bool) (*BatchResult, error) {
	handle, err := f.resolveModel(modelID)
	if err != nil {
		return nil, err
	}

	items := make([]ItemResult, len(images))
	var wg sync.WaitGroup
	for i := range images {
		wg.Add(1)
		go func(i int, image []byte) {
			defer wg.Done()
			res, err := f.PredictSingle(ctx, modelID, image, allScores)
			if err != nil {
				items[i] = ItemResult{Err: err}
				return
			}
			items[i] = ItemResult{Predictions: res.Predictions, Source: res.Source}
		}(i, images[i])
	}
	wg.Wait()

	return &BatchResult{
		ModelID:      handle.ID,
		ModelVersion: handle.Engine.Version(),
		Items:        items,
	}, nil
}

// topOnly trims a prediction list to its best entry. Trimming happens on the
// way out only, cached entries always hold the full list.
func topOnly(preds []inference.Prediction) []inference.Prediction {
	if len(preds) > 1 {
		return preds[:1]
	}
	return preds
}

// classify serves one slice of images for a caller that already holds an
// admission slot: consult both cache tiers per image, then push the misses
// through the worker pool in one task. The task runs on a detached context,
// so a caller that times out still leaves warm caches behind.
func (f *Frontend) classify(ctx context.Context, handle *models.Handle, images [][]byte) ([]ItemResult, error) {
	eng := handle.Engine
	version := eng.Version()

	items := make([]ItemResult, len(images))
	keys := make([]string, len(images))
	var missIdx []int
	var missImages [][]byte

	for i, img := range images {
		keys[i] = cache.PredictionKey(version, cache.ContentHash(img))
		if preds, source, ok := f.lookupPredictions(ctx, keys[i]); ok {
			items[i] = ItemResult{Predictions: preds, Source: source}
			continue
		}
		missIdx = append(missIdx, i)
		missImages = append(missImages, img)
	}
	if len(missIdx) == 0 {
		return items, nil
	}

	resCh := make(chan []inference.BatchItem, 1)
	computeCtx := context.WithoutCancel(ctx)
	err := f.pool.Submit(ctx, func() {
		start := time.Now()
		out := eng.PredictBatch(computeCtx, missImages)
		f.manager.RecordUsage(handle.ID, time.Since(start))
		for j, item := range out {
			if item.Err == nil {
				f.storePredictions(computeCtx, keys[missIdx[j]], item.Predictions)
			}
		}
		resCh <- out
	})
	if err != nil {
		return nil, mapCtxErr(err)
	}

	select {
	case out := <-resCh:
		for j, item := range out {
			i := missIdx[j]
			if item.Err != nil {
				items[i] = ItemResult{Err: item.Err}
			} else {
				items[i] = ItemResult{Predictions: item.Predictions, Source: SourceComputed}
			}
		}
		return items, nil
	case <-ctx.Done():
		return nil, mapCtxErr(ctx.Err())
	}
}

// lookupPredictions checks local then shared tier. A shared hit is copied
// into the local tier on the way back.
func (f *Frontend) lookupPredictions(ctx context.Context, key string) ([]inference.Prediction, string, bool) {
	if !f.cacheOn {
		return nil, "", false
	}
	if f.local != nil {
		if v, ok := f.local.Get(key); ok {
			if preds, ok := v.([]inference.Prediction); ok {
				return preds, SourceLocalCache, true
			}
		}
	}
	if f.shared.Enabled() {
		var preds []inference.Prediction
		if f.shared.GetJSON(ctx, key, &preds) {
			if f.local != nil {
				f.local.Put(key, preds)
			}
			return preds, SourceSharedCache, true
		}
	}
	return nil, "", false
}

// storePredictions writes a computed result to the shared tier first, then
// the local one.
func (f *Frontend) storePredictions(ctx context.Context, key string, preds []inference.Prediction) {
	if !f.cacheOn {
		return
	}
	if f.shared.Enabled() {
		f.shared.SetJSON(ctx, config.CacheNamespaceInference, key, preds)
	}
	if f.local != nil {
		f.local.Put(key, preds)
	}
}

// HealthCheck runs a synthetic image through the primary model. An empty
// prediction list is healthy; only a missing model or a failed pass is not.
func (f *Frontend) HealthCheck(ctx context.Context) Health {
	h := Health{Model: config.PrimaryModelID}
	if f.closed.Load() {
		h.Error = ErrShutdown.Error()
		return h
	}
	handle, err := f.manager.Get(config.PrimaryModelID)
	if err != nil {
		h.Error = err.Error()
		return h
	}

	ctx, cancel := f.requestContext(ctx)
	defer cancel()

	image := inference.SyntheticImage(handle.Engine.InputSize())
	resCh := make(chan error, 1)
	start := time.Now()
	if err := f.pool.Submit(ctx, func() {
		_, perr := handle.Engine.Predict(context.WithoutCancel(ctx), image)
		resCh <- perr
	}); err != nil {
		h.Error = mapCtxErr(err).Error()
		return h
	}

	select {
	case perr := <-resCh:
		if perr != nil {
			h.Error = perr.Error()
			return h
		}
		h.Healthy = true
		h.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
		return h
	case <-ctx.Done():
		h.Error = mapCtxErr(ctx.Err()).Error()
		return h
	}
}

// CacheStatus groups both tiers for status reporting.
type CacheStatus struct {
	Enabled bool               `json:"enabled"`
	Local   *cache.Stats       `json:"local,omitempty"`
	Shared  *cache.SharedStats `json:"shared,omitempty"`
}

// ConfigView is the subset of serving configuration worth echoing back.
type ConfigView struct {
	ConfidenceThreshold   float64 `json:"confidence_threshold"`
	TopK                  int     `json:"top_k"`
	MaxBatchSize          int     `json:"max_batch_size"`
	MaxBatchItems         int     `json:"max_batch_items"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	WorkerCount           int     `json:"worker_count"`
	RequestTimeout        string  `json:"request_timeout"`
	WarmupIterations      int     `json:"warmup_iterations"`
	BatchingEnabled       bool    `json:"batching_enabled"`
}

// Status is the full operational snapshot served by the status endpoint.
type Status struct {
	Status        string        `json:"status"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	InFlight      int           `json:"in_flight_requests"`
	QueueDepth    int           `json:"queue_depth"`
	Models        []models.Info `json:"models"`
	Cache         CacheStatus   `json:"cache"`
	Config        ConfigView    `json:"config"`
}

func (f *Frontend) Status() Status {
	st := Status{
		Status:        "ok",
		UptimeSeconds: time.Since(f.started).Seconds(),
		InFlight:      len(f.sem),
		QueueDepth:    f.pool.Depth(),
		Models:        f.manager.List(),
		Cache:         CacheStatus{Enabled: f.cacheOn},
		Config: ConfigView{
			ConfidenceThreshold:   f.cfg.ConfidenceThreshold,
			TopK:                  f.cfg.TopK,
			MaxBatchSize:          f.cfg.MaxBatchSize,
			MaxBatchItems:         f.cfg.MaxBatchItems,
			MaxConcurrentRequests: f.cfg.MaxConcurrentRequests,
			WorkerCount:           f.cfg.WorkerCount,
			RequestTimeout:        f.cfg.RequestTimeout.String(),
			WarmupIterations:      f.cfg.WarmupIterations,
			BatchingEnabled:       f.cfg.BatchingEnabled,
		},
	}
	if f.closed.Load() {
		st.Status = "shutting_down"
	}
	if f.local != nil {
		ls := f.local.Stats()
		st.Cache.Local = &ls
	}
	if f.shared.Enabled() {
		ss := f.shared.Stats()
		st.Cache.Shared = &ss
		if ss.Breaker.Open {
			st.Status = "degraded"
		}
	}
	return st
}

// ListModels snapshots the registry.
func (f *Frontend) ListModels() []models.Info {
	return f.manager.List()
}

func (f *Frontend) resolveModel(modelID string) (*models.Handle, error) {
	if modelID == "" {
		modelID = config.PrimaryModelID
	}
	return f.manager.Get(modelID)
}

func (f *Frontend) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, f.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// acquire blocks until an admission slot frees up or the context gives out.
func (f *Frontend) acquire(ctx context.Context) (func(), error) {
	select {
	case f.sem <- struct{}{}:
		return func() { <-f.sem }, nil
	case <-ctx.Done():
		return nil, mapCtxErr(ctx.Err())
	}
}

// mapCtxErr turns a deadline into the serving timeout error. Cancellation
// keeps its identity, the caller simply went away.
func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
