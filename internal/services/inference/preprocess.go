package inference

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"

	_ "image/jpeg"

	"github.com/nfnt/resize"
)

// ErrInvalidImage marks input that cannot be decoded into an RGB image. In a
// batch it is carried per item and never fails sibling images.
var ErrInvalidImage = errors.New("invalid image")

// DefaultInputSize is the square model input used when a model does not
// declare its own.
const DefaultInputSize = 224

// Per-channel normalization applied after scaling pixels to [0,1]. These match
// the statistics the classifiers were trained with.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor turns arbitrary images into normalized CHW float32 tensors of
// a fixed square size.
type Preprocessor struct {
	size int
}

func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultInputSize
	}
	return &Preprocessor{size: size}
}

// Size returns the square input edge length.
func (p *Preprocessor) Size() int {
	return p.size
}

// TensorLen returns the flattened tensor length (3 channels).
func (p *Preprocessor) TensorLen() int {
	return 3 * p.size * p.size
}

// FromBytes decodes raw image bytes and preprocesses them.
func (p *Preprocessor) FromBytes(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return p.FromImage(img), nil
}

// FromFile reads and preprocesses an image from disk.
func (p *Preprocessor) FromFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return p.FromBytes(data)
}

// FromImage resizes a decoded image and produces the normalized tensor in
// CHW layout.
func (p *Preprocessor) FromImage(img image.Image) []float32 {
	resized := resize.Resize(uint(p.size), uint(p.size), img, resize.Lanczos3)

	plane := p.size * p.size
	out := make([]float32, 3*plane)

	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*p.size + x

			out[idx] = (float32(r)/65535.0 - channelMean[0]) / channelStd[0]
			out[plane+idx] = (float32(g)/65535.0 - channelMean[1]) / channelStd[1]
			out[2*plane+idx] = (float32(b)/65535.0 - channelMean[2]) / channelStd[2]
		}
	}

	return out
}

// SyntheticImage renders a random RGB noise image as PNG bytes. Health checks
// and warmup use it so they exercise the full decode and inference path
// without real photographs.
func SyntheticImage(size int) []byte {
	if size <= 0 {
		size = DefaultInputSize
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rand.Intn(256)),
				G: uint8(rand.Intn(256)),
				B: uint8(rand.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	// Encoding a fully in-memory RGBA image cannot fail.
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
