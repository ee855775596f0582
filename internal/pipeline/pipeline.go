// Package pipeline adapts embodiment-native observations and actions to
// the model's canonical interface and back. Steps are pure, ordered, and
// statically composed per model variant at construction time; no step
// branches on variant at runtime.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol"
)

// Variant tags a supported model head. Each variant gets its own fixed
// step sequence.
type Variant string

const (
	// VariantBase emits delta-encoded actions on the masked dimensions.
	VariantBase Variant = "base"
	// VariantFast emits absolute actions on every dimension.
	VariantFast Variant = "fast"
)

var ErrUnknownVariant = errors.New("pipeline: unknown model variant")

// Raw observation keys at the embodiment boundary. Camera keys come
// from the embodiment spec's slot mapping.
const (
	RawKeyState   = "observation.state"
	RawKeyPrompt  = "prompt"
	RawKeyActions = "action"
)

// Raw is one embodiment-native observation, keyed by dataset-style raw
// keys. Unknown keys are ignored for forward compatibility.
type Raw map[string]any

// Sample carries one observation (and optional action labels or model
// output) through the pipeline.
type Sample struct {
	State     []float32
	Images    map[string]canonical.Image
	Mask      map[string]bool
	Prompt    string
	Actions   canonical.ActionChunk
	PrevState []float32

	raw Raw
}

// Observation returns the canonical model input held by the sample.
func (s *Sample) Observation() canonical.Observation {
	return canonical.Observation{
		State:     s.State,
		Images:    s.Images,
		ImageMask: s.Mask,
		Prompt:    s.Prompt,
	}
}

// Step is one attachable pipeline stage. Forward runs embodiment ->
// canonical; Backward runs canonical -> embodiment. Stages that only
// apply in one direction implement the other as a no-op.
type Step interface {
	Name() string
	Forward(*Sample) error
	Backward(*Sample) error
}

// Pipeline is the fixed step composition for one embodiment and model
// variant.
type Pipeline struct {
	spec    canonical.EmbodimentSpec
	iface   canonical.Interface
	variant Variant

	forward  []Step
	backward []Step
	embody   []Step
}

// New composes the pipeline for spec against the negotiated interface.
func New(spec canonical.EmbodimentSpec, iface canonical.Interface, variant Variant) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := spec.CompatibleWith(iface); err != nil {
		return nil, err
	}

	p := &Pipeline{spec: spec, iface: iface, variant: variant}
	common := []Step{
		stateStep{spec: spec, iface: iface},
		imageStep{spec: spec},
		slotFillStep{iface: iface},
		promptStep{},
	}
	switch variant {
	case VariantBase:
		p.forward = append(common, deltaLabelStep{spec: spec, iface: iface})
		p.backward = []Step{deltaIntegrateStep{spec: spec}}
	case VariantFast:
		p.forward = common
		p.backward = nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	p.embody = []Step{trimStep{spec: spec}}
	return p, nil
}

// Spec returns the embodiment spec the pipeline was built for.
func (p *Pipeline) Spec() canonical.EmbodimentSpec { return p.spec }

// Forward adapts one raw embodiment observation to the canonical
// interface. A required raw key that is absent fails with a
// MissingFieldError; unknown raw keys are ignored.
func (p *Pipeline) Forward(raw Raw) (*Sample, error) {
	s := &Sample{
		Images: make(map[string]canonical.Image, len(p.iface.CameraSlots)),
		Mask:   make(map[string]bool, len(p.iface.CameraSlots)),
		raw:    raw,
	}
	for _, step := range p.forward {
		if err := step.Forward(s); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", step.Name(), err)
		}
	}
	return s, nil
}

// Normalize canonicalizes a decoded wire observation in place: the state
// is zero-padded up to the canonical dimensionality (a longer state is a
// shape error, never truncated) and every canonical slot is made present
// with a valid image and mask.
func (p *Pipeline) Normalize(obs *canonical.Observation) error {
	if len(obs.State) > p.iface.StateDim {
		return &protocol.ProtocolError{
			Code:    protocol.CodeShapeMismatch,
			Message: fmt.Sprintf("state dim %d exceeds canonical %d", len(obs.State), p.iface.StateDim),
		}
	}
	obs.State = canonical.PadToDim(obs.State, p.iface.StateDim)

	if obs.Images == nil {
		obs.Images = make(map[string]canonical.Image, len(p.iface.CameraSlots))
	}
	if obs.ImageMask == nil {
		obs.ImageMask = make(map[string]bool, len(p.iface.CameraSlots))
	}
	h, w := protocol.DefaultImageHW, protocol.DefaultImageHW
	for _, slot := range p.iface.CameraSlots {
		if img, ok := obs.Images[slot]; ok && img.Valid() {
			h, w = img.H, img.W
		}
	}
	for _, slot := range p.iface.CameraSlots {
		img, ok := obs.Images[slot]
		if !ok {
			obs.Images[slot] = canonical.ZeroImage(h, w)
			obs.ImageMask[slot] = false
			continue
		}
		if !img.Valid() {
			return &protocol.ProtocolError{
				Code:    protocol.CodeShapeMismatch,
				Message: fmt.Sprintf("invalid image for slot %q", slot),
			}
		}
	}
	return nil
}

// Backward adapts one canonical model output chunk: delta-encoded
// dimensions are re-integrated into running absolute values starting
// from state, absolute dimensions pass through. The chunk keeps its
// canonical dimensionality here; trimming happens in Embody, nearest
// the robot.
func (p *Pipeline) Backward(chunk canonical.ActionChunk, state []float32) (canonical.ActionChunk, error) {
	s := &Sample{Actions: chunk.Clone(), PrevState: state}
	for _, step := range p.backward {
		if err := step.Backward(s); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", step.Name(), err)
		}
	}
	return s.Actions, nil
}

// Embody slices each canonical action vector down to the embodiment's
// true dimensionality. It never pads.
func (p *Pipeline) Embody(chunk canonical.ActionChunk) (canonical.ActionChunk, error) {
	s := &Sample{Actions: chunk}
	for _, step := range p.embody {
		if err := step.Backward(s); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", step.Name(), err)
		}
	}
	return s.Actions, nil
}
