package serving

import (
	"context"
	"fmt"

	"github.com/mealserve/mealserve/internal/config"
	"github.com/mealserve/mealserve/internal/services/cache"
	"github.com/mealserve/mealserve/internal/services/nutrition"
)

// MealFood is the best prediction for one meal image.
type MealFood struct {
	ImageIndex int      `json:"image_index"`
	ClassName  string   `json:"class_name"`
	Confidence float64  `json:"confidence"`
	Category   string   `json:"category,omitempty"`
	LocalNames []string `json:"local_names,omitempty"`
}

// SkippedImage records a meal image that contributed nothing, with the
// reason.
type SkippedImage struct {
	ImageIndex int    `json:"image_index"`
	Reason     string `json:"reason"`
}

// MealAnalysis summarizes the nutritional makeup of a meal photographed as
// one image per dish. BalanceScore is the share of the six nutrition
// categories present; MissingCategories lists the absent ones in the table's
// canonical order.
type MealAnalysis struct {
	ModelID           string              `json:"model_id"`
	ModelVersion      string              `json:"model_version"`
	Source            string              `json:"source"`
	Foods             []MealFood          `json:"foods"`
	Skipped           []SkippedImage      `json:"skipped,omitempty"`
	Distribution      map[string][]string `json:"category_distribution"`
	BalanceScore      float64             `json:"balance_score"`
	MissingCategories []string            `json:"missing_categories"`
	Suggestions       map[string][]string `json:"suggestions,omitempty"`
}

// AnalyzeMeal classifies every image, keeps each one's top prediction and
// aggregates them into a category breakdown. The whole analysis is cached
// under a key covering all image hashes, and the per-image classifications
// feed the regular prediction cache on the way through.
func (f *Frontend) AnalyzeMeal(ctx context.Context, modelID string, images [][]byte) (*MealAnalysis, error) {
	if f.closed.Load() {
		return nil, ErrShutdown
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to analyze")
	}
	if f.cfg.MaxBatchItems > 0 && len(images) > f.cfg.MaxBatchItems {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(images), f.cfg.MaxBatchItems)
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

	version := handle.Engine.Version()
	hashes := make([]string, len(images))
	for i, img := range images {
		hashes[i] = cache.ContentHash(img)
	}
	key := cache.AnalysisKey(version, hashes)

	if analysis, source, ok := f.lookupAnalysis(ctx, key); ok {
		analysis.Source = source
		return analysis, nil
	}

	items, err := f.classify(ctx, handle, images)
	if err != nil {
		return nil, err
	}

	analysis := f.aggregateMeal(items)
	analysis.ModelID = handle.ID
	analysis.ModelVersion = version
	analysis.Source = SourceComputed
	f.storeAnalysis(ctx, key, analysis)
	return analysis, nil
}

func (f *Frontend) lookupAnalysis(ctx context.Context, key string) (*MealAnalysis, string, bool) {
	if !f.cacheOn {
		return nil, "", false
	}
	if f.local != nil {
		if v, ok := f.local.Get(key); ok {
			if analysis, ok := v.(*MealAnalysis); ok {
				copied := *analysis
				return &copied, SourceLocalCache, true
			}
		}
	}
	if f.shared.Enabled() {
		var analysis MealAnalysis
		if f.shared.GetJSON(ctx, key, &analysis) {
			if f.local != nil {
				stored := analysis
				f.local.Put(key, &stored)
			}
			return &analysis, SourceSharedCache, true
		}
	}
	return nil, "", false
}

func (f *Frontend) storeAnalysis(ctx context.Context, key string, analysis *MealAnalysis) {
	if !f.cacheOn {
		return
	}
	if f.shared.Enabled() {
		f.shared.SetJSON(ctx, config.CacheNamespaceAnalysis, key, analysis)
	}
	if f.local != nil {
		stored := *analysis
		f.local.Put(key, &stored)
	}
}

// aggregateMeal folds per-image top predictions into the meal summary. An
// image with an error or with nothing above the threshold is reported under
// Skipped and contributes no category.
func (f *Frontend) aggregateMeal(items []ItemResult) *MealAnalysis {
	analysis := &MealAnalysis{
		Foods:        make([]MealFood, 0, len(items)),
		Distribution: make(map[string][]string),
	}
	present := make(map[string]bool)

	for i, item := range items {
		if item.Err != nil {
			analysis.Skipped = append(analysis.Skipped, SkippedImage{ImageIndex: i, Reason: item.Err.Error()})
			continue
		}
		if len(item.Predictions) == 0 {
			analysis.Skipped = append(analysis.Skipped, SkippedImage{ImageIndex: i, Reason: "no prediction"})
			continue
		}
		top := item.Predictions[0]
		analysis.Foods = append(analysis.Foods, MealFood{
			ImageIndex: i,
			ClassName:  top.ClassName,
			Confidence: top.Confidence,
			Category:   top.NutritionCategory,
			LocalNames: top.LocalNames,
		})
		if top.NutritionCategory != "" {
			analysis.Distribution[top.NutritionCategory] = append(analysis.Distribution[top.NutritionCategory], top.ClassName)
			present[top.NutritionCategory] = true
		}
	}

	analysis.BalanceScore = float64(len(present)) / float64(len(nutrition.Categories))
	for _, category := range nutrition.Categories {
		if present[category] {
			continue
		}
		analysis.MissingCategories = append(analysis.MissingCategories, category)
		if f.mapper != nil {
			if picks := f.mapper.SuggestionsFor(category, 3); len(picks) > 0 {
				if analysis.Suggestions == nil {
					analysis.Suggestions = make(map[string][]string)
				}
				analysis.Suggestions[category] = picks
			}
		}
	}
	return analysis
}
