package pipeline

import (
	"fmt"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol"
)

// stateStep extracts the raw state vector and zero-pads it to the
// canonical state dimensionality. The raw copy of the true state is kept
// on the sample for delta encoding.
type stateStep struct {
	spec  canonical.EmbodimentSpec
	iface canonical.Interface
}

func (stateStep) Name() string { return "state" }

func (st stateStep) Forward(s *Sample) error {
	v, ok := s.raw[RawKeyState]
	if !ok {
		return protocol.MissingFieldError{Key: RawKeyState}
	}
	state, err := toF32Slice(v)
	if err != nil {
		return fmt.Errorf("%s: %w", RawKeyState, err)
	}
	if len(state) != st.spec.StateDim {
		return fmt.Errorf("pipeline: state length %d, embodiment declares %d", len(state), st.spec.StateDim)
	}
	s.PrevState = append([]float32(nil), state...)
	s.State = canonical.PadToDim(state, st.iface.StateDim)
	return nil
}

func (stateStep) Backward(*Sample) error { return nil }

// imageStep parses the embodiment's configured cameras: floating-point
// images in [0,1] are coerced to 8-bit [0,255] and CHW layouts are
// rearranged to HWC. Every configured camera is required.
type imageStep struct {
	spec canonical.EmbodimentSpec
}

func (imageStep) Name() string { return "images" }

func (st imageStep) Forward(s *Sample) error {
	for slot, rawKey := range st.spec.Cameras {
		v, ok := s.raw[rawKey]
		if !ok {
			return protocol.MissingFieldError{Key: rawKey}
		}
		img, err := parseImage(v)
		if err != nil {
			return fmt.Errorf("%s: %w", rawKey, err)
		}
		s.Images[slot] = img
		s.Mask[slot] = true
	}
	return nil
}

func (imageStep) Backward(*Sample) error { return nil }

// slotFillStep makes every canonical slot present: slots the embodiment
// does not populate get a zero image and mask=false, never a missing
// key.
type slotFillStep struct {
	iface canonical.Interface
}

func (slotFillStep) Name() string { return "slot_fill" }

func (st slotFillStep) Forward(s *Sample) error {
	h, w := protocol.DefaultImageHW, protocol.DefaultImageHW
	for _, img := range s.Images {
		h, w = img.H, img.W
		break
	}
	for _, slot := range st.iface.CameraSlots {
		if _, ok := s.Images[slot]; ok {
			continue
		}
		s.Images[slot] = canonical.ZeroImage(h, w)
		s.Mask[slot] = false
	}
	return nil
}

func (slotFillStep) Backward(*Sample) error { return nil }

// promptStep passes the task prompt through unchanged. A missing prompt
// is not an error.
type promptStep struct{}

func (promptStep) Name() string { return "prompt" }

func (promptStep) Forward(s *Sample) error {
	v, ok := s.raw[RawKeyPrompt]
	if !ok {
		return nil
	}
	prompt, ok := v.(string)
	if !ok {
		return fmt.Errorf("pipeline: prompt must be a string, got %T", v)
	}
	s.Prompt = prompt
	return nil
}

func (promptStep) Backward(*Sample) error { return nil }

// deltaLabelStep converts training action labels to the model's delta
// encoding: the prior absolute state is subtracted on delta-masked
// dimensions only; the terminal gripper dimension stays absolute.
// Labels narrower than the canonical action dimension are zero-padded,
// never rejected.
type deltaLabelStep struct {
	spec  canonical.EmbodimentSpec
	iface canonical.Interface
}

func (deltaLabelStep) Name() string { return "delta_labels" }

func (st deltaLabelStep) Forward(s *Sample) error {
	v, ok := s.raw[RawKeyActions]
	if !ok {
		return nil
	}
	labels, ok := v.(canonical.ActionChunk)
	if !ok {
		return fmt.Errorf("pipeline: action labels must be an ActionChunk, got %T", v)
	}
	prior := append([]float32(nil), s.PrevState...)
	out := make(canonical.ActionChunk, len(labels))
	for t, row := range labels {
		padded := canonical.PadToDim(append([]float32(nil), row...), st.iface.ActionDim)
		for i := range padded {
			if !st.spec.Delta(i) || i >= len(prior) {
				continue
			}
			absolute := padded[i]
			padded[i] -= prior[i]
			prior[i] = absolute
		}
		out[t] = padded
	}
	s.Actions = out
	return nil
}

func (deltaLabelStep) Backward(*Sample) error { return nil }

// deltaIntegrateStep re-integrates delta-encoded dimensions of a model
// output chunk into running absolute values, starting from the last
// known absolute state. Absolute dimensions are left unchanged.
type deltaIntegrateStep struct {
	spec canonical.EmbodimentSpec
}

func (deltaIntegrateStep) Name() string { return "delta_integrate" }

func (deltaIntegrateStep) Forward(*Sample) error { return nil }

func (st deltaIntegrateStep) Backward(s *Sample) error {
	if len(s.Actions) == 0 {
		return nil
	}
	running := append([]float32(nil), s.PrevState...)
	for _, row := range s.Actions {
		for i := range row {
			if !st.spec.Delta(i) {
				continue
			}
			if i >= len(running) {
				return fmt.Errorf("pipeline: delta dimension %d has no prior state", i)
			}
			row[i] += running[i]
			running[i] = row[i]
		}
	}
	return nil
}

// trimStep slices each action vector down to the embodiment's true
// dimensionality. This is the adaptation step nearest the robot; it
// never pads.
type trimStep struct {
	spec canonical.EmbodimentSpec
}

func (trimStep) Name() string { return "trim" }

func (trimStep) Forward(*Sample) error { return nil }

func (st trimStep) Backward(s *Sample) error {
	out := make(canonical.ActionChunk, len(s.Actions))
	for t, row := range s.Actions {
		if len(row) < st.spec.ActionDim {
			return fmt.Errorf("pipeline: action dim %d below embodiment's %d", len(row), st.spec.ActionDim)
		}
		out[t] = append([]float32(nil), row[:st.spec.ActionDim]...)
	}
	s.Actions = out
	return nil
}
