package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// ErrInferenceFailure marks a forward pass that could not complete. Invalid
// input is reported as ErrInvalidImage instead, and context errors keep their
// own identity so callers can tell a timeout from a broken model.
var ErrInferenceFailure = errors.New("inference failure")

// Prediction is one classified food with its confidence and optional
// nutrition enrichment. Enrichment fields stay unset when the class has no
// entry in the nutrition table.
type Prediction struct {
	ClassName         string   `json:"class_name"`
	Confidence        float64  `json:"confidence"`
	ClassIndex        int      `json:"class_index"`
	NutritionCategory string   `json:"nutrition_category,omitempty"`
	LocalNames        []string `json:"local_names,omitempty"`
}

// BatchItem carries the outcome for one image of a batch. Exactly one of
// Predictions and Err is meaningful; an empty Predictions slice with a nil
// Err means nothing scored above the confidence threshold.
type BatchItem struct {
	Predictions []Prediction `json:"predictions"`
	Err         error        `json:"-"`
}

// Options bundle the tunables an Engine needs beyond its weights.
type Options struct {
	ConfidenceThreshold float64
	TopK                int
	MaxBatchSize        int
	InputSize           int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 16
	}
	if o.InputSize <= 0 {
		o.InputSize = DefaultInputSize
	}
	return o
}

// Engine owns one model: preprocessing, the forward pass, score extraction
// and nutrition enrichment. It holds no caches and no admission state, so a
// single Engine can safely serve concurrent callers.
type Engine struct {
	backend   Backend
	pre       *Preprocessor
	mapper    *nutrition.Mapper
	classes   []string
	version   string
	tag       string
	threshold float64
	topK      int
	chunkSize int
	logger    *zap.Logger
}

// NewEngine wires an Engine around an already constructed backend. The class
// list must match the backend's logit width.
func NewEngine(backend Backend, classes []string, version string, mapper *nutrition.Mapper, opts Options, logger *zap.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("nil backend")
	}
	if len(classes) != backend.NumClasses() {
		return nil, fmt.Errorf("%d class names for %d model outputs", len(classes), backend.NumClasses())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Engine{
		backend:   backend,
		pre:       NewPreprocessor(opts.InputSize),
		mapper:    mapper,
		classes:   classes,
		version:   version,
		threshold: opts.ConfidenceThreshold,
		topK:      opts.TopK,
		chunkSize: opts.MaxBatchSize,
		logger:    logger,
	}, nil
}

// LoadEngine builds an Engine from a model config entry. ONNX exports need a
// sidecar class file; JSON checkpoints carry their own labels or synthesize
// placeholders.
func LoadEngine(cfg config.ModelConfig, mapper *nutrition.Mapper, opts Options, logger *zap.Logger) (*Engine, error) {
	if cfg.InputSize > 0 {
		opts.InputSize = cfg.InputSize
	}
	opts = opts.withDefaults()

	if strings.HasSuffix(cfg.Checkpoint, ".onnx") {
		if cfg.ClassesFile == "" {
			return nil, fmt.Errorf("model %s: onnx checkpoint needs a classes_file", cfg.ID)
		}
		classes, err := loadClassNames(cfg.ClassesFile)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
		}
		raw, err := os.ReadFile(cfg.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("model %s: read checkpoint: %w", cfg.ID, err)
		}
		backend, err := newONNXBackend(cfg.Checkpoint, opts.InputSize, len(classes))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
		}
		eng, err := NewEngine(backend, classes, contentVersion(raw), mapper, opts, logger)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
		}
		return eng, nil
	}

	ckpt, err := LoadCheckpoint(cfg.Checkpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
	}
	backend, err := newLinearBackend(ckpt)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
	}
	eng, err := NewEngine(backend, ckpt.ClassNames, ckpt.Version, mapper, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ID, err)
	}
	eng.tag = ckpt.Tag
	return eng, nil
}

// loadClassNames reads a label file: either a JSON array of strings or one
// label per line.
func loadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classes file: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		return names, nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("classes file %s has no labels", path)
	}
	return names, nil
}

// Predict classifies one image and returns its predictions sorted by
// confidence. An empty result means nothing scored above the threshold.
func (e *Engine) Predict(ctx context.Context, data []byte) ([]Prediction, error) {
	tensor, err := e.pre.FromBytes(data)
	if err != nil {
		return nil, err
	}
	logits, err := e.backend.Forward(ctx, [][]float32{tensor})
	if err != nil {
		return nil, e.wrapForwardErr(err)
	}
	return e.extract(logits[0]), nil
}

// PredictBatch classifies many images with one forward pass per chunk of at
// most MaxBatchSize valid inputs. Results keep the input order; undecodable
// images fail individually without touching their siblings, and a failed
// chunk fails only the images inside it.
func (e *Engine) PredictBatch(ctx context.Context, images [][]byte) []BatchItem {
	items := make([]BatchItem, len(images))

	type pending struct {
		idx    int
		tensor []float32
	}
	queue := make([]pending, 0, len(images))
	for i, img := range images {
		tensor, err := e.pre.FromBytes(img)
		if err != nil {
			items[i].Err = err
			continue
		}
		queue = append(queue, pending{idx: i, tensor: tensor})
	}

	for start := 0; start < len(queue); start += e.chunkSize {
		end := min(start+e.chunkSize, len(queue))
		chunk := queue[start:end]

		batch := make([][]float32, len(chunk))
		for j, p := range chunk {
			batch[j] = p.tensor
		}

		logits, err := e.backend.Forward(ctx, batch)
		if err != nil {
			wrapped := e.wrapForwardErr(err)
			for _, p := range chunk {
				items[p.idx].Err = wrapped
			}
			continue
		}
		for j, p := range chunk {
			items[p.idx].Predictions = e.extract(logits[j])
		}
	}
	return items
}

func (e *Engine) wrapForwardErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInferenceFailure, err)
}

// extract converts one logit vector into the final prediction list: softmax,
// sort by confidence with ties broken toward the lower class index, keep at
// most topK entries at or above the threshold, then enrich from the nutrition
// table.
func (e *Engine) extract(logits []float32) []Prediction {
	probs := softmax(logits)

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	var preds []Prediction
	for _, idx := range order {
		if len(preds) >= e.topK {
			break
		}
		conf := probs[idx]
		if conf < e.threshold {
			break
		}
		p := Prediction{
			ClassName:  e.classes[idx],
			Confidence: conf,
			ClassIndex: idx,
		}
		if e.mapper != nil {
			if rec, ok := e.mapper.Lookup(p.ClassName); ok {
				p.NutritionCategory = rec.Category
				p.LocalNames = rec.LocalNames
			}
		}
		preds = append(preds, p)
	}
	return preds
}

// softmax computes class probabilities in float64 with the usual max shift
// for numeric stability.
func softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Warmup pushes synthetic images through the full predict path. Any failure
// is returned so startup can abort instead of serving a model that cannot
// run.
func (e *Engine) Warmup(ctx context.Context, iterations int) error {
	for i := 0; i < iterations; i++ {
		if _, err := e.Predict(ctx, SyntheticImage(e.pre.Size())); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
	}
	return nil
}

// Version is the content-derived model identifier used in cache keys.
func (e *Engine) Version() string {
	return e.version
}

// Tag is the optional human version label from the checkpoint, empty when the
// file carries none.
func (e *Engine) Tag() string {
	return e.tag
}

// ClassNames returns a copy of the label list indexed by class.
func (e *Engine) ClassNames() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

func (e *Engine) NumClasses() int {
	return len(e.classes)
}

func (e *Engine) InputSize() int {
	return e.pre.Size()
}

func (e *Engine) MaxBatchSize() int {
	return e.chunkSize
}

func (e *Engine) Close() error {
	return e.backend.Close()
}
