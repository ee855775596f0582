package pipeline

import (
	"fmt"

	"github.com/okaneko/policylink/internal/canonical"
)

// FloatImage is a raw floating-point camera frame with values in [0,1].
// CHW marks channel-first layouts that need rearranging.
type FloatImage struct {
	H    int
	W    int
	CHW  bool
	Data []float32
}

// parseImage coerces a raw camera value into the canonical uint8 HWC
// form.
func parseImage(v any) (canonical.Image, error) {
	switch img := v.(type) {
	case canonical.Image:
		if !img.Valid() {
			return canonical.Image{}, fmt.Errorf("pipeline: invalid image buffer")
		}
		return img, nil
	case FloatImage:
		return coerceFloatImage(img)
	default:
		return canonical.Image{}, fmt.Errorf("pipeline: unsupported image type %T", v)
	}
}

func coerceFloatImage(img FloatImage) (canonical.Image, error) {
	if img.H <= 0 || img.W <= 0 || len(img.Data) != img.H*img.W*3 {
		return canonical.Image{}, fmt.Errorf("pipeline: float image %dx%d with %d values", img.H, img.W, len(img.Data))
	}
	out := canonical.Image{H: img.H, W: img.W, Pix: make([]uint8, len(img.Data))}
	for i := range img.Data {
		src := i
		if img.CHW {
			// c*H*W + h*W + w  ->  h*W*3 + w*3 + c
			c := i / (img.H * img.W)
			rem := i % (img.H * img.W)
			h := rem / img.W
			w := rem % img.W
			src = i
			out.Pix[h*img.W*3+w*3+c] = quantize(img.Data[src])
			continue
		}
		out.Pix[i] = quantize(img.Data[src])
	}
	return out, nil
}

// quantize maps [0,1] to [0,255], clamping out-of-range values.
func quantize(v float32) uint8 {
	scaled := v * 255
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}

func toF32Slice(v any) ([]float32, error) {
	switch vec := v.(type) {
	case []float32:
		return vec, nil
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("pipeline: unsupported vector type %T", v)
	}
}
