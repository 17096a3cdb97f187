package inference

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensorJSON(shape []int, data []float32) map[string]interface{} {
	return map[string]interface{}{"shape": shape, "data": data}
}

func marshalCheckpoint(t *testing.T, doc map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestParseCheckpoint_WrappedLayout(t *testing.T) {
	data := marshalCheckpoint(t, map[string]interface{}{
		"model_state_dict": map[string]interface{}{
			"classifier.weight": tensorJSON([]int{2, 3}, []float32{1, 0, 0, 0, 1, 0}),
			"classifier.bias":   tensorJSON([]int{2}, []float32{0.5, -0.5}),
		},
		"class_names": []string{"jollof_rice", "beans"},
		"version":     "v2.1",
	})

	ckpt, err := ParseCheckpoint(data)
	require.NoError(t, err)

	assert.Equal(t, 2, ckpt.NumClasses())
	assert.Equal(t, []string{"jollof_rice", "beans"}, ckpt.ClassNames)
	assert.Equal(t, "v2.1", ckpt.Tag)
	assert.Len(t, ckpt.Version, 16)
	assert.Equal(t, []float32{0.5, -0.5}, ckpt.Bias.Data)
}

func TestParseCheckpoint_BareStateDict(t *testing.T) {
	data := marshalCheckpoint(t, map[string]interface{}{
		"classifier.weight": tensorJSON([]int{3, 2}, []float32{1, 2, 3, 4, 5, 6}),
	})

	ckpt, err := ParseCheckpoint(data)
	require.NoError(t, err)

	assert.Equal(t, 3, ckpt.NumClasses())
	assert.Equal(t, []string{"class_0", "class_1", "class_2"}, ckpt.ClassNames)
	assert.Empty(t, ckpt.Tag)

	// Absent bias defaults to zeros.
	assert.Equal(t, []float32{0, 0, 0}, ckpt.Bias.Data)
}

func TestParseCheckpoint_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]interface{}
	}{
		{
			name: "missing weight tensor",
			doc: map[string]interface{}{
				"classifier.bias": tensorJSON([]int{2}, []float32{0, 0}),
			},
		},
		{
			name: "weight data does not match shape",
			doc: map[string]interface{}{
				"classifier.weight": tensorJSON([]int{2, 3}, []float32{1, 2}),
			},
		},
		{
			name: "weight not two dimensional",
			doc: map[string]interface{}{
				"classifier.weight": tensorJSON([]int{6}, []float32{1, 2, 3, 4, 5, 6}),
			},
		},
		{
			name: "bias width mismatch",
			doc: map[string]interface{}{
				"classifier.weight": tensorJSON([]int{2, 2}, []float32{1, 2, 3, 4}),
				"classifier.bias":   tensorJSON([]int{3}, []float32{0, 0, 0}),
			},
		},
		{
			name: "class names length mismatch",
			doc: map[string]interface{}{
				"model_state_dict": map[string]interface{}{
					"classifier.weight": tensorJSON([]int{2, 2}, []float32{1, 2, 3, 4}),
				},
				"class_names": []string{"only_one"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCheckpoint(marshalCheckpoint(t, tt.doc))
			assert.Error(t, err)
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := ParseCheckpoint([]byte("not a checkpoint"))
		assert.Error(t, err)
	})
}

func TestParseCheckpoint_VersionTracksContent(t *testing.T) {
	a := marshalCheckpoint(t, map[string]interface{}{
		"classifier.weight": tensorJSON([]int{1, 2}, []float32{1, 2}),
	})
	b := marshalCheckpoint(t, map[string]interface{}{
		"classifier.weight": tensorJSON([]int{1, 2}, []float32{1, 3}),
	})

	ca, err := ParseCheckpoint(a)
	require.NoError(t, err)
	cb, err := ParseCheckpoint(b)
	require.NoError(t, err)
	caAgain, err := ParseCheckpoint(a)
	require.NoError(t, err)

	assert.Equal(t, ca.Version, caAgain.Version)
	assert.NotEqual(t, ca.Version, cb.Version)
}

func TestLoadCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	data := marshalCheckpoint(t, map[string]interface{}{
		"classifier.weight": tensorJSON([]int{2, 2}, []float32{1, 0, 0, 1}),
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ckpt, err := LoadCheckpoint(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ckpt.NumClasses())

	_, err = LoadCheckpoint(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)
}
