package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Demo foods with the color signature their fixture image is painted in.
// Together they cover every nutrition category, so analyzing all eight
// images yields a perfectly balanced meal.
var demoFoods = []struct {
	name        string
	category    string
	localNames  []string
	description string
	rgb         [3]float64
}{
	{"jollof_rice", "carbohydrates", []string{"jollof"}, "Rice cooked in pepper and tomato stew", [3]float64{0.85, 0.40, 0.15}},
	{"pounded_yam", "carbohydrates", []string{"iyan"}, "Boiled yam pounded into a smooth dough", [3]float64{0.95, 0.92, 0.82}},
	{"beans", "proteins", []string{"ewa"}, "Stewed brown beans", [3]float64{0.50, 0.30, 0.18}},
	{"grilled_fish", "proteins", []string{"eja yiyan"}, "Whole fish grilled over open flame", [3]float64{0.55, 0.55, 0.50}},
	{"egusi_soup", "fats_oils", []string{"egusi"}, "Melon seed soup cooked in palm oil", [3]float64{0.80, 0.70, 0.20}},
	{"efo_riro", "vitamins", []string{"efo"}, "Spinach stew with peppers", [3]float64{0.15, 0.55, 0.20}},
	{"okra_soup", "minerals", []string{"ila"}, "Okra cooked into a drawing soup", [3]float64{0.35, 0.65, 0.30}},
	{"zobo_drink", "water", []string{"zobo"}, "Hibiscus infusion served chilled", [3]float64{0.55, 0.10, 0.25}},
}

const (
	fixturesDir = "fixtures"
	inputSize   = 32
)

// Preprocessing statistics the server normalizes with. The demo weights are
// expressed in the same normalized space so solid-color images land on their
// own class.
var (
	channelMean = [3]float64{0.485, 0.456, 0.406}
	channelStd  = [3]float64{0.229, 0.224, 0.225}
)

func main() {
	for _, dir := range []string{fixturesDir, filepath.Join(fixturesDir, "images")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create fixtures directory: ", err)
		}
	}

	tag := "demo-" + uuid.New().String()[:8]
	if err := writeCheckpoint(filepath.Join(fixturesDir, "checkpoint.json"), tag); err != nil {
		log.Fatal("Failed to write checkpoint: ", err)
	}
	fmt.Println("Created checkpoint:", filepath.Join(fixturesDir, "checkpoint.json"), "tag", tag)

	if err := writeNutritionTable(filepath.Join(fixturesDir, "nutrition_table.json")); err != nil {
		log.Fatal("Failed to write nutrition table: ", err)
	}
	fmt.Println("Created nutrition table:", filepath.Join(fixturesDir, "nutrition_table.json"))

	for _, food := range demoFoods {
		path := filepath.Join(fixturesDir, "images", food.name+".png")
		if err := writeFoodImage(path, food.rgb); err != nil {
			log.Fatal("Failed to write image: ", err)
		}
		fmt.Println("Created image:", path)
	}

	if err := writeConfig(filepath.Join(fixturesDir, "config.yaml")); err != nil {
		log.Fatal("Failed to write config: ", err)
	}
	fmt.Println("Created config:", filepath.Join(fixturesDir, "config.yaml"))

	fmt.Println("\nFixtures ready. Start the server with:")
	fmt.Println("  go run ./cmd/server -config", fixturesDir)
	fmt.Println("Then classify a fixture image:")
	fmt.Printf("  curl -F images=@%s http://localhost:8080/v1/predict\n", filepath.Join(fixturesDir, "images", "jollof_rice.png"))
}

// writeCheckpoint emits a linear classifier whose weight for class i is the
// centered color signature of food i, spread uniformly over each channel
// plane. A solid image in a food's signature color then scores that food
// highest.
func writeCheckpoint(path, tag string) error {
	plane := inputSize * inputSize
	features := 3 * plane

	weight := make([]float32, 0, len(demoFoods)*features)
	for _, food := range demoFoods {
		for c := 0; c < 3; c++ {
			normalized := (food.rgb[c] - channelMean[c]) / channelStd[c]
			w := float32(normalized / float64(plane))
			for p := 0; p < plane; p++ {
				weight = append(weight, w)
			}
		}
	}

	classNames := make([]string, len(demoFoods))
	for i, food := range demoFoods {
		classNames[i] = food.name
	}

	doc := map[string]interface{}{
		"model_state_dict": map[string]interface{}{
			"classifier.weight": map[string]interface{}{
				"shape": []int{len(demoFoods), features},
				"data":  weight,
			},
			"classifier.bias": map[string]interface{}{
				"shape": []int{len(demoFoods)},
				"data":  make([]float32, len(demoFoods)),
			},
		},
		"class_names": classNames,
		"version":     tag,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeNutritionTable(path string) error {
	table := make(map[string]interface{}, len(demoFoods))
	for _, food := range demoFoods {
		table[food.name] = map[string]interface{}{
			"category":    food.category,
			"local_names": food.localNames,
			"description": food.description,
		}
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeFoodImage paints a solid signature color with a faint checker overlay
// so the fixtures do not compress down to nothing.
func writeFoodImage(path string, rgb [3]float64) error {
	const size = 128
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			shade := 0.0
			if (x/16+y/16)%2 == 0 {
				shade = 0.04
			}
			img.Set(x, y, color.RGBA{
				R: clamp8(rgb[0] - shade),
				G: clamp8(rgb[1] - shade),
				B: clamp8(rgb[2] - shade),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func clamp8(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v * 255)
}

func writeConfig(path string) error {
	cfg := fmt.Sprintf(`server:
  port: 8080

serving:
  confidence_threshold: 0.05
  top_k: 5
  max_batch_size: 8
  max_batch_items: 16
  max_concurrent_requests: 16
  worker_count: 4
  request_timeout: 30s
  warmup_iterations: 2
  batching_enabled: true

cache:
  enabled: true
  local_size: 512
  ttl:
    inference: 1h
    analysis: 10m

nutrition:
  table_path: %s

logging:
  level: debug
  format: console

model_list:
  - id: primary
    checkpoint: %s
    input_size: %d
`,
		filepath.Join(fixturesDir, "nutrition_table.json"),
		filepath.Join(fixturesDir, "checkpoint.json"),
		inputSize)
	return os.WriteFile(path, []byte(cfg), 0o644)
}
