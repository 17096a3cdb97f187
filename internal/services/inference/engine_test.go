package inference

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// stubBackend records forward calls and lets tests control the logits.
type stubBackend struct {
	mu         sync.Mutex
	classes    int
	calls      int
	batchSizes []int
	failCalls  map[int]bool
	logitsFor  func(input []float32) []float32
}

func (s *stubBackend) Forward(_ context.Context, batch [][]float32) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.batchSizes = append(s.batchSizes, len(batch))
	s.mu.Unlock()

	if s.failCalls[call] {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(batch))
	for i, input := range batch {
		if s.logitsFor != nil {
			out[i] = s.logitsFor(input)
		} else {
			out[i] = make([]float32, s.classes)
		}
	}
	return out, nil
}

func (s *stubBackend) NumClasses() int { return s.classes }
func (s *stubBackend) Close() error    { return nil }

func (s *stubBackend) snapshot() (int, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batchSizes))
	copy(sizes, s.batchSizes)
	return s.calls, sizes
}

func newTestEngine(t *testing.T, backend *stubBackend, classes []string, mapper *nutrition.Mapper, opts Options) *Engine {
	t.Helper()
	if opts.InputSize == 0 {
		opts.InputSize = 8
	}
	eng, err := NewEngine(backend, classes, "test-version", mapper, opts, zap.NewNop())
	require.NoError(t, err)
	return eng
}

func grayPNG(t *testing.T, v uint8) []byte {
	t.Helper()
	return solidPNG(t, color.RGBA{R: v, G: v, B: v, A: 255}, 16)
}

func TestEngine_PredictOrdering(t *testing.T) {
	backend := &stubBackend{
		classes:   4,
		logitsFor: func([]float32) []float32 { return []float32{1, 3, 2, 3} },
	}
	eng := newTestEngine(t, backend, []string{"c0", "c1", "c2", "c3"}, nil, Options{TopK: 4})

	preds, err := eng.Predict(context.Background(), grayPNG(t, 100))
	require.NoError(t, err)
	require.Len(t, preds, 4)

	// Equal logits tie toward the lower class index, the rest sort by
	// descending confidence.
	indices := []int{preds[0].ClassIndex, preds[1].ClassIndex, preds[2].ClassIndex, preds[3].ClassIndex}
	assert.Equal(t, []int{1, 3, 2, 0}, indices)

	for i, p := range preds {
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, preds[i-1].Confidence, p.Confidence)
		}
	}
}

func TestEngine_PredictThresholdAndTopK(t *testing.T) {
	backend := &stubBackend{
		classes:   3,
		logitsFor: func([]float32) []float32 { return []float32{5, 0, 0} },
	}

	t.Run("threshold filters weak classes", func(t *testing.T) {
		eng := newTestEngine(t, backend, []string{"a", "b", "c"}, nil, Options{ConfidenceThreshold: 0.5, TopK: 3})
		preds, err := eng.Predict(context.Background(), grayPNG(t, 100))
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, 0, preds[0].ClassIndex)
	})

	t.Run("nothing above threshold means no prediction", func(t *testing.T) {
		eng := newTestEngine(t, backend, []string{"a", "b", "c"}, nil, Options{ConfidenceThreshold: 0.999, TopK: 3})
		preds, err := eng.Predict(context.Background(), grayPNG(t, 100))
		require.NoError(t, err)
		assert.Empty(t, preds)
	})

	t.Run("top k caps the list", func(t *testing.T) {
		eng := newTestEngine(t, backend, []string{"a", "b", "c"}, nil, Options{TopK: 2})
		preds, err := eng.Predict(context.Background(), grayPNG(t, 100))
		require.NoError(t, err)
		assert.Len(t, preds, 2)
	})
}

func TestEngine_PredictEnrichment(t *testing.T) {
	mapper, err := nutrition.Parse([]byte(`{
		"jollof_rice": {"category": "carbohydrates", "local_names": ["jollof"]}
	}`), zap.NewNop())
	require.NoError(t, err)

	backend := &stubBackend{
		classes:   2,
		logitsFor: func([]float32) []float32 { return []float32{0, 4} },
	}
	eng := newTestEngine(t, backend, []string{"beans", "jollof_rice"}, mapper, Options{TopK: 2})

	preds, err := eng.Predict(context.Background(), grayPNG(t, 100))
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, "jollof_rice", preds[0].ClassName)
	assert.Equal(t, "carbohydrates", preds[0].NutritionCategory)
	assert.Equal(t, []string{"jollof"}, preds[0].LocalNames)

	// No table entry leaves the enrichment fields unset.
	assert.Equal(t, "beans", preds[1].ClassName)
	assert.Empty(t, preds[1].NutritionCategory)
	assert.Empty(t, preds[1].LocalNames)
}

func TestEngine_PredictInvalidImage(t *testing.T) {
	backend := &stubBackend{classes: 2}
	eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{})

	_, err := eng.Predict(context.Background(), []byte("junk"))
	assert.ErrorIs(t, err, ErrInvalidImage)

	calls, _ := backend.snapshot()
	assert.Zero(t, calls)
}

func TestEngine_PredictBatchChunking(t *testing.T) {
	backend := &stubBackend{
		classes: 2,
		logitsFor: func(input []float32) []float32 {
			// Brighter images score higher on class 0, which lets the
			// assertions below detect any reordering.
			return []float32{input[0] * 4, 0}
		},
	}
	eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{MaxBatchSize: 2, TopK: 2})

	images := [][]byte{
		grayPNG(t, 10), grayPNG(t, 70), grayPNG(t, 130), grayPNG(t, 190), grayPNG(t, 250),
	}
	items := eng.PredictBatch(context.Background(), images)
	require.Len(t, items, 5)

	calls, sizes := backend.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{2, 2, 1}, sizes)

	// Class 0 probability grows with brightness, so input order survives
	// chunking only if item i still holds image i's result.
	var last float64 = -1
	for i, item := range items {
		require.NoError(t, item.Err)
		require.Len(t, item.Predictions, 2, "item %d", i)
		conf0 := -1.0
		for _, p := range item.Predictions {
			if p.ClassIndex == 0 {
				conf0 = p.Confidence
			}
		}
		assert.Greater(t, conf0, last, "item %d", i)
		last = conf0
	}
}

func TestEngine_PredictBatchInvalidItem(t *testing.T) {
	backend := &stubBackend{classes: 2}
	eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{MaxBatchSize: 2, TopK: 1})

	images := [][]byte{
		grayPNG(t, 10), []byte("not an image"), grayPNG(t, 130), grayPNG(t, 190), grayPNG(t, 250),
	}
	items := eng.PredictBatch(context.Background(), images)
	require.Len(t, items, 5)

	assert.ErrorIs(t, items[1].Err, ErrInvalidImage)
	for _, i := range []int{0, 2, 3, 4} {
		assert.NoError(t, items[i].Err, "item %d", i)
	}

	// The bad image never reaches the backend: four valid inputs in two
	// chunks.
	calls, sizes := backend.snapshot()
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{2, 2}, sizes)
}

func TestEngine_PredictBatchChunkFailureIsIsolated(t *testing.T) {
	backend := &stubBackend{
		classes:   2,
		failCalls: map[int]bool{2: true},
	}
	eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{MaxBatchSize: 2, TopK: 1})

	images := [][]byte{
		grayPNG(t, 10), grayPNG(t, 70), grayPNG(t, 130), grayPNG(t, 190), grayPNG(t, 250),
	}
	items := eng.PredictBatch(context.Background(), images)

	assert.NoError(t, items[0].Err)
	assert.NoError(t, items[1].Err)
	assert.ErrorIs(t, items[2].Err, ErrInferenceFailure)
	assert.ErrorIs(t, items[3].Err, ErrInferenceFailure)
	assert.NoError(t, items[4].Err)
}

func TestEngine_Warmup(t *testing.T) {
	t.Run("runs the requested iterations", func(t *testing.T) {
		backend := &stubBackend{classes: 2}
		eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{})

		require.NoError(t, eng.Warmup(context.Background(), 3))
		calls, _ := backend.snapshot()
		assert.Equal(t, 3, calls)
	})

	t.Run("aborts on the first failure", func(t *testing.T) {
		backend := &stubBackend{classes: 2, failCalls: map[int]bool{1: true}}
		eng := newTestEngine(t, backend, []string{"a", "b"}, nil, Options{})

		err := eng.Warmup(context.Background(), 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInferenceFailure)
	})
}

func TestNewEngine_RejectsClassMismatch(t *testing.T) {
	backend := &stubBackend{classes: 2}
	_, err := NewEngine(backend, []string{"a", "b", "c"}, "v", nil, Options{}, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadEngine_JSONCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	features := 3 * 8 * 8
	weight := make([]float32, 2*features)
	for i := range weight[:features] {
		weight[i] = 0.01
	}
	data := marshalCheckpoint(t, map[string]interface{}{
		"classifier.weight": tensorJSON([]int{2, features}, weight),
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	eng, err := LoadEngine(config.ModelConfig{
		ID:         "primary",
		Checkpoint: path,
		InputSize:  8,
	}, nil, Options{TopK: 2}, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close()

	assert.Len(t, eng.Version(), 16)
	assert.Equal(t, []string{"class_0", "class_1"}, eng.ClassNames())
	assert.Equal(t, 8, eng.InputSize())

	preds, err := eng.Predict(context.Background(), grayPNG(t, 200))
	require.NoError(t, err)
	assert.NotEmpty(t, preds)
}

func TestLoadClassNames(t *testing.T) {
	dir := t.TempDir()

	t.Run("json array", func(t *testing.T) {
		path := filepath.Join(dir, "classes.json")
		require.NoError(t, os.WriteFile(path, []byte(`["beans", "rice"]`), 0o644))
		names, err := loadClassNames(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"beans", "rice"}, names)
	})

	t.Run("one label per line", func(t *testing.T) {
		path := filepath.Join(dir, "classes.txt")
		require.NoError(t, os.WriteFile(path, []byte("beans\nrice\n\n"), 0o644))
		names, err := loadClassNames(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"beans", "rice"}, names)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.txt")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := loadClassNames(path)
		assert.Error(t, err)
	})
}
