package inference

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxInputName  = "input"
	onnxOutputName = "output"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the ONNX Runtime environment once per process.
// Sessions share the environment, so it is never torn down while the server
// runs.
func initRuntime() error {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(sharedLibraryPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func sharedLibraryPath() string {
	if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "/usr/local/lib/libonnxruntime.so"
	}
}

// onnxBackend runs an exported ONNX graph. Batches are fed through a dynamic
// session so any batch size up to the serving chunk limit works with the one
// session.
type onnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputSize  int
	numClasses int
}

func newONNXBackend(path string, inputSize, numClasses int) (*onnxBackend, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{onnxInputName}, []string{onnxOutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}
	return &onnxBackend{
		session:    session,
		inputSize:  inputSize,
		numClasses: numClasses,
	}, nil
}

func (b *onnxBackend) NumClasses() int {
	return b.numClasses
}

func (b *onnxBackend) Forward(ctx context.Context, batch [][]float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(batch)
	plane := b.inputSize * b.inputSize
	flat := make([]float32, 0, n*3*plane)
	for i, input := range batch {
		if len(input) != 3*plane {
			return nil, fmt.Errorf("input %d has %d features, model expects %d", i, len(input), 3*plane)
		}
		flat = append(flat, input...)
	}

	inputShape := ort.NewShape(int64(n), 3, int64(b.inputSize), int64(b.inputSize))
	inputTensor, err := ort.NewTensor(inputShape, flat)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(int64(n), int64(b.numClasses))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := b.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	// GetData returns a view into tensor memory, so copy before Destroy.
	data := outputTensor.GetData()
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, b.numClasses)
		copy(row, data[i*b.numClasses:(i+1)*b.numClasses])
		out[i] = row
	}
	return out, nil
}

func (b *onnxBackend) Close() error {
	if b.session != nil {
		return b.session.Destroy()
	}
	return nil
}
