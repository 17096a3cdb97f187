package inference

import (
	"context"
	"fmt"
)

// Backend runs the forward pass for a batch of preprocessed tensors and
// returns one logit vector per input. Implementations must be safe for
// concurrent use; the serving layer serializes calls through its worker pool
// but health checks may run alongside.
type Backend interface {
	// Forward computes logits for every tensor in the batch in order.
	Forward(ctx context.Context, batch [][]float32) ([][]float32, error)
	// NumClasses reports the width of the logit vectors.
	NumClasses() int
	Close() error
}

// linearBackend evaluates a single fully-connected layer over the flattened
// input tensor. It backs JSON checkpoints, which store exactly that layer.
type linearBackend struct {
	weight     []float32
	bias       []float32
	inFeatures int
	numClasses int
}

func newLinearBackend(ckpt *Checkpoint) (*linearBackend, error) {
	classes := ckpt.Weight.Shape[0]
	features := ckpt.Weight.Shape[1]
	return &linearBackend{
		weight:     ckpt.Weight.Data,
		bias:       ckpt.Bias.Data,
		inFeatures: features,
		numClasses: classes,
	}, nil
}

func (b *linearBackend) NumClasses() int {
	return b.numClasses
}

func (b *linearBackend) Forward(ctx context.Context, batch [][]float32) ([][]float32, error) {
	out := make([][]float32, len(batch))
	for i, input := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(input) != b.inFeatures {
			return nil, fmt.Errorf("input %d has %d features, model expects %d", i, len(input), b.inFeatures)
		}
		logits := make([]float32, b.numClasses)
		for c := 0; c < b.numClasses; c++ {
			row := b.weight[c*b.inFeatures : (c+1)*b.inFeatures]
			var sum float32
			for j, v := range input {
				sum += row[j] * v
			}
			logits[c] = sum + b.bias[c]
		}
		out[i] = logits
	}
	return out, nil
}

func (b *linearBackend) Close() error {
	return nil
}
