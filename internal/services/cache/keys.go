package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mealserve/mealserve/internal/config"
)

// ContentHash returns the hex digest of raw image bytes. It is the
// deterministic part of every prediction cache key.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PredictionKey builds the key for one image's predictions. The model version
// keeps results from different checkpoints apart, so a reloaded model never
// serves entries computed by its predecessor.
func PredictionKey(modelVersion, contentHash string) string {
	return fmt.Sprintf("%s:%s:%s", config.CacheNamespaceInference, modelVersion, contentHash)
}

// AnalysisKey builds the key for a meal-level analysis over a set of images.
// The digest covers every image hash in order, so the same plates photographed
// into a different request hit the same entry.
func AnalysisKey(modelVersion string, contentHashes []string) string {
	sum := sha256.Sum256([]byte(strings.Join(contentHashes, "|")))
	return fmt.Sprintf("%s:%s:%s", config.CacheNamespaceAnalysis, modelVersion, hex.EncodeToString(sum[:]))
}
