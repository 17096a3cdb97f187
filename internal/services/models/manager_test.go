package models

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/inference"
)

const testInputSize = 8

// writeTestCheckpoint produces a two-class linear checkpoint whose bytes vary
// with the tag, so different tags yield different content versions.
func writeTestCheckpoint(t *testing.T, dir, name, tag string) string {
	t.Helper()

	features := 3 * testInputSize * testInputSize
	weight := make([]float32, 2*features)
	for i := range weight[:features] {
		weight[i] = 0.01
	}
	doc := map[string]interface{}{
		"model_state_dict": map[string]interface{}{
			"classifier.weight": map[string]interface{}{
				"shape": []int{2, features},
				"data":  weight,
			},
		},
		"class_names": []string{"beans", "jollof_rice"},
		"version":     tag,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil, inference.Options{InputSize: testInputSize, TopK: 2}, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func loadTestModel(t *testing.T, m *Manager, dir, id, tag string) {
	t.Helper()
	require.NoError(t, m.Load(config.ModelConfig{
		ID:         id,
		Checkpoint: writeTestCheckpoint(t, dir, id+"-"+tag, tag),
		InputSize:  testInputSize,
	}))
}

func TestManager_LoadAndGet(t *testing.T) {
	m := testManager(t)
	loadTestModel(t, m, t.TempDir(), "primary", "v1")

	handle, err := m.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", handle.ID)
	assert.NotNil(t, handle.Engine)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get("secondary")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestManager_LoadFromConfigFailsFast(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()

	err := m.LoadFromConfig([]config.ModelConfig{
		{ID: "primary", Checkpoint: writeTestCheckpoint(t, dir, "ok", "v1"), InputSize: testInputSize},
		{ID: "broken", Checkpoint: filepath.Join(dir, "missing.json"), InputSize: testInputSize},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestManager_RecordUsage(t *testing.T) {
	m := testManager(t)
	loadTestModel(t, m, t.TempDir(), "primary", "v1")

	// The first sample seeds the average, later ones blend in a tenth each.
	m.RecordUsage("primary", 100*time.Millisecond)
	m.RecordUsage("primary", 200*time.Millisecond)
	m.RecordUsage("primary", 50*time.Millisecond)

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(3), infos[0].RequestCount)
	assert.InDelta(t, 104.0, infos[0].AvgLatencyMS, 0.01)

	assert.NotPanics(t, func() {
		m.RecordUsage("unknown", time.Second)
	})
}

func TestManager_ListSnapshot(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()
	loadTestModel(t, m, dir, "zeta", "v1")
	loadTestModel(t, m, dir, "alpha", "v1")

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, "zeta", infos[1].ID)
	assert.True(t, infos[0].LastUsed.IsZero())

	_, err := m.Get("alpha")
	require.NoError(t, err)

	infos = m.List()
	assert.False(t, infos[0].LastUsed.IsZero())
	assert.True(t, infos[1].LastUsed.IsZero())
}

func TestManager_Remove(t *testing.T) {
	m := testManager(t)
	loadTestModel(t, m, t.TempDir(), "primary", "v1")

	require.NoError(t, m.Remove("primary"))
	_, err := m.Get("primary")
	assert.ErrorIs(t, err, ErrModelNotFound)

	assert.ErrorIs(t, m.Remove("primary"), ErrModelNotFound)
}

func TestManager_ReloadReplacesEngine(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()

	loadTestModel(t, m, dir, "primary", "v1")
	before := m.List()[0].Version

	loadTestModel(t, m, dir, "primary", "v2")
	after := m.List()[0].Version

	assert.Equal(t, 1, m.Len())
	assert.NotEqual(t, before, after)
}

func TestManager_WarmupAll(t *testing.T) {
	m := testManager(t)
	loadTestModel(t, m, t.TempDir(), "primary", "v1")

	assert.NoError(t, m.WarmupAll(context.Background(), 2))
	assert.NoError(t, m.WarmupAll(context.Background(), 0))
}

func TestManager_ConcurrentUsage(t *testing.T) {
	m := testManager(t)
	loadTestModel(t, m, t.TempDir(), "primary", "v1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := m.Get("primary"); err != nil {
					t.Error(err)
					return
				}
				m.RecordUsage("primary", 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(400), infos[0].RequestCount)
}
