package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Tensor is a dense float32 array with an explicit shape, row-major.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (t Tensor) elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) validate(name string) error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor %s has no shape", name)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor %s has non-positive dimension %d", name, d)
		}
	}
	if len(t.Data) != t.elems() {
		return fmt.Errorf("tensor %s data length %d does not match shape %v", name, len(t.Data), t.Shape)
	}
	return nil
}

// Checkpoint holds deserialized classifier weights together with label
// metadata. Weight and Bias describe a single linear layer mapping the
// flattened input tensor to one logit per class. Version is derived from the
// file content, so two byte-identical checkpoints always agree; Tag carries
// the optional free-form version string embedded in the file.
type Checkpoint struct {
	Weight     Tensor
	Bias       Tensor
	ClassNames []string
	Version    string
	Tag        string
}

// NumClasses is derived from the weight shape, not from the label list.
func (c *Checkpoint) NumClasses() int {
	if len(c.Weight.Shape) == 0 {
		return 0
	}
	return c.Weight.Shape[0]
}

// checkpointFile is the on-disk document. Older exports serialize the state
// dict at the top level; newer ones wrap it and add labels and a version tag.
type checkpointFile struct {
	ModelStateDict map[string]Tensor `json:"model_state_dict"`
	ClassNames     []string          `json:"class_names"`
	Version        string            `json:"version"`
}

const (
	weightKey = "classifier.weight"
	biasKey   = "classifier.bias"
)

// LoadCheckpoint reads a checkpoint file from disk, derives its content
// version from the raw bytes, and validates the tensors.
func LoadCheckpoint(path string, logger *zap.Logger) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	ckpt, err := ParseCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("Loaded checkpoint",
			zap.String("path", path),
			zap.String("version", ckpt.Version),
			zap.Int("classes", ckpt.NumClasses()))
	}
	return ckpt, nil
}

// ParseCheckpoint deserializes checkpoint bytes. Both layouts are accepted:
// a bare state dict of tensors, or a wrapper object with a model_state_dict
// key plus optional class_names and version fields. When labels are absent
// or incomplete, placeholder names of the form class_<i> are synthesized so
// every class index resolves to a stable name.
func ParseCheckpoint(data []byte) (*Checkpoint, error) {
	var wrapped checkpointFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	state := wrapped.ModelStateDict
	if state == nil {
		// Bare layout: the document itself is the state dict. Non-tensor
		// top-level values make this decode fail, which is the signal that
		// the file is neither layout.
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode state dict: %w", err)
		}
	}

	weight, ok := state[weightKey]
	if !ok {
		return nil, fmt.Errorf("missing tensor %s", weightKey)
	}
	if err := weight.validate(weightKey); err != nil {
		return nil, err
	}
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("tensor %s must be 2-dimensional, got shape %v", weightKey, weight.Shape)
	}
	numClasses := weight.Shape[0]

	bias, ok := state[biasKey]
	if ok {
		if err := bias.validate(biasKey); err != nil {
			return nil, err
		}
		if len(bias.Shape) != 1 || bias.Shape[0] != numClasses {
			return nil, fmt.Errorf("tensor %s shape %v does not match %d classes", biasKey, bias.Shape, numClasses)
		}
	} else {
		bias = Tensor{Shape: []int{numClasses}, Data: make([]float32, numClasses)}
	}

	names := wrapped.ClassNames
	switch {
	case len(names) == 0:
		names = make([]string, numClasses)
		for i := range names {
			names[i] = fmt.Sprintf("class_%d", i)
		}
	case len(names) != numClasses:
		return nil, fmt.Errorf("class_names length %d does not match %d classes", len(names), numClasses)
	}

	return &Checkpoint{
		Weight:     weight,
		Bias:       bias,
		ClassNames: names,
		Version:    contentVersion(data),
		Tag:        wrapped.Version,
	}, nil
}

// contentVersion derives a short stable identifier from the checkpoint bytes.
func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
