package canonical

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEmbodiment = errors.New("canonical: invalid embodiment spec")

// EmbodimentSpec declares how one robot configuration maps onto the
// canonical interface. Fixed at configuration time, read-only thereafter.
type EmbodimentSpec struct {
	Name string

	// True dimensionality on the robot side. Padded up to the canonical
	// dims at the protocol boundary, trimmed back down at dispense time.
	StateDim  int
	ActionDim int

	// Cameras maps the canonical slots this embodiment populates to the
	// raw observation key each one is read from. Canonical slots absent
	// from this map are sent masked false with a zero image.
	Cameras map[string]string

	// DeltaMask marks which action dimensions are delta-encoded. Length
	// ActionDim. The terminal (gripper) dimension must be absolute.
	DeltaMask []bool

	// Safe dispense range per action dimension, length ActionDim.
	SafeLow  []float32
	SafeHigh []float32

	// GripperThreshold pins the binarization boundary for the terminal
	// dimension: value > threshold -> 1.0, else 0.0.
	GripperThreshold float32
}

func (s EmbodimentSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEmbodiment)
	}
	if s.StateDim <= 0 {
		return fmt.Errorf("%w: state_dim must be positive", ErrInvalidEmbodiment)
	}
	if s.ActionDim <= 0 {
		return fmt.Errorf("%w: action_dim must be positive", ErrInvalidEmbodiment)
	}
	if len(s.DeltaMask) != 0 {
		if len(s.DeltaMask) != s.ActionDim {
			return fmt.Errorf("%w: delta mask length %d != action_dim %d", ErrInvalidEmbodiment, len(s.DeltaMask), s.ActionDim)
		}
		if s.DeltaMask[s.ActionDim-1] {
			return fmt.Errorf("%w: terminal dimension must be absolute", ErrInvalidEmbodiment)
		}
	}
	if len(s.SafeLow) != len(s.SafeHigh) {
		return fmt.Errorf("%w: safe range bounds differ in length", ErrInvalidEmbodiment)
	}
	if len(s.SafeLow) != 0 && len(s.SafeLow) != s.ActionDim {
		return fmt.Errorf("%w: safe range length %d != action_dim %d", ErrInvalidEmbodiment, len(s.SafeLow), s.ActionDim)
	}
	for i := range s.SafeLow {
		if s.SafeLow[i] > s.SafeHigh[i] {
			return fmt.Errorf("%w: safe range [%d] inverted", ErrInvalidEmbodiment, i)
		}
	}
	for slot, key := range s.Cameras {
		if strings.TrimSpace(slot) == "" || strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty camera mapping entry", ErrInvalidEmbodiment)
		}
	}
	return nil
}

// CompatibleWith checks the spec against a negotiated interface. A
// failure here is a configuration error: the process must restart with a
// corrected spec, never retry.
func (s EmbodimentSpec) CompatibleWith(iface Interface) error {
	if s.StateDim > iface.StateDim {
		return fmt.Errorf("%w: embodiment state_dim %d exceeds canonical %d", ErrInvalidEmbodiment, s.StateDim, iface.StateDim)
	}
	if s.ActionDim > iface.ActionDim {
		return fmt.Errorf("%w: embodiment action_dim %d exceeds canonical %d", ErrInvalidEmbodiment, s.ActionDim, iface.ActionDim)
	}
	known := make(map[string]struct{}, len(iface.CameraSlots))
	for _, slot := range iface.CameraSlots {
		known[slot] = struct{}{}
	}
	for slot := range s.Cameras {
		if _, ok := known[slot]; !ok {
			return fmt.Errorf("%w: camera slot %q not offered by model %q", ErrInvalidEmbodiment, slot, iface.ModelID)
		}
	}
	return nil
}

// Delta reports whether action dimension i is delta-encoded.
func (s EmbodimentSpec) Delta(i int) bool {
	return i < len(s.DeltaMask) && s.DeltaMask[i]
}
