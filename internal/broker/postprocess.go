package broker

import "github.com/okaneko/policylink/internal/canonical"

// PostProcessor applies the safety layer to each dispensed action:
// binarize the terminal gripper dimension at the configured threshold,
// then clip every dimension to the embodiment's safe range. It runs at
// dispense time, never on the cached chunk, so the cache keeps the raw
// model output.
type PostProcessor struct {
	spec canonical.EmbodimentSpec
}

func NewPostProcessor(spec canonical.EmbodimentSpec) *PostProcessor {
	return &PostProcessor{spec: spec}
}

// Apply returns a processed copy; the input action is not mutated.
func (p *PostProcessor) Apply(action []float32) []float32 {
	out := make([]float32, len(action))
	copy(out, action)

	// Values at exactly the threshold close the gripper.
	if n := len(out); n > 0 {
		if out[n-1] > p.spec.GripperThreshold {
			out[n-1] = 1.0
		} else {
			out[n-1] = 0.0
		}
	}

	for i := range out {
		if i < len(p.spec.SafeLow) && out[i] < p.spec.SafeLow[i] {
			out[i] = p.spec.SafeLow[i]
		}
		if i < len(p.spec.SafeHigh) && out[i] > p.spec.SafeHigh[i] {
			out[i] = p.spec.SafeHigh[i]
		}
	}
	return out
}
