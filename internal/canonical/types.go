package canonical

// Canonical camera slots the model consumes, in wire order.
const (
	SlotBase       = "base_0_rgb"
	SlotLeftWrist  = "left_wrist_0_rgb"
	SlotRightWrist = "right_wrist_0_rgb"
)

// DefaultSlots returns the canonical slot order for the stock model head.
func DefaultSlots() []string {
	return []string{SlotBase, SlotLeftWrist, SlotRightWrist}
}

// Image is one RGB camera frame in HWC layout, 3 bytes per pixel.
type Image struct {
	H   int
	W   int
	Pix []uint8
}

// ZeroImage returns an all-black frame of the given size.
func ZeroImage(h, w int) Image {
	return Image{H: h, W: w, Pix: make([]uint8, h*w*3)}
}

// Valid reports whether the pixel buffer matches the declared dimensions.
func (im Image) Valid() bool {
	return im.H > 0 && im.W > 0 && len(im.Pix) == im.H*im.W*3
}

// Observation is one canonical model input. Every canonical slot is
// present in Images and ImageMask; slots the embodiment does not
// populate carry a zero image and mask=false.
type Observation struct {
	State     []float32
	Images    map[string]Image
	ImageMask map[string]bool
	Prompt    string
}

// ActionChunk is an ordered sequence of action vectors. The outer length
// is the negotiated horizon; the inner length is the action dimension.
type ActionChunk [][]float32

// Clone returns a deep copy of the chunk.
func (c ActionChunk) Clone() ActionChunk {
	if c == nil {
		return nil
	}
	out := make(ActionChunk, len(c))
	for i, row := range c {
		out[i] = append([]float32(nil), row...)
	}
	return out
}

// Interface is the fixed observation/action schema the model serves,
// independent of embodiment. It is negotiated once per connection.
type Interface struct {
	ActionHorizon int
	ActionDim     int
	StateDim      int
	CameraSlots   []string
	ModelID       string
}

// PadToDim zero-pads v up to dim. Vectors already at or beyond dim are
// returned unchanged: padding never truncates.
func PadToDim(v []float32, dim int) []float32 {
	if len(v) >= dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
