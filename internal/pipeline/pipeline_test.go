package pipeline

import (
	"errors"
	"testing"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/protocol"
	"github.com/okaneko/policylink/internal/testutil/testlog"
)

func testInterface() canonical.Interface {
	return canonical.Interface{
		ActionHorizon: 16,
		ActionDim:     6,
		StateDim:      8,
		CameraSlots:   []string{"main", "wrist"},
		ModelID:       "linear-base",
	}
}

func testSpec() canonical.EmbodimentSpec {
	return canonical.EmbodimentSpec{
		Name:      "arm-5dof",
		StateDim:  5,
		ActionDim: 5,
		Cameras:   map[string]string{"main": "observation.images.top"},
		DeltaMask: []bool{true, true, true, true, false},
	}
}

func testRaw() Raw {
	return Raw{
		RawKeyState:              []float32{0.1, 0.2, 0.3, 0.4, 0.5},
		RawKeyPrompt:             "stack the cups",
		"observation.images.top": canonical.ZeroImage(8, 8),
	}
}

func newTestPipeline(t *testing.T, variant Variant) *Pipeline {
	t.Helper()
	p, err := New(testSpec(), testInterface(), variant)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestForwardFillsAbsentSlots(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	s, err := p.Forward(testRaw())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if !s.Mask["main"] {
		t.Fatal("populated slot must be masked true")
	}
	wrist, ok := s.Images["wrist"]
	if !ok {
		t.Fatal("absent slot missing from images, want zero fill")
	}
	if s.Mask["wrist"] {
		t.Fatal("absent slot must be masked false")
	}
	for i, px := range wrist.Pix {
		if px != 0 {
			t.Fatalf("absent slot pixel %d is %d, want 0", i, px)
		}
	}
}

func TestForwardPadsState(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	s, err := p.Forward(testRaw())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(s.State) != 8 {
		t.Fatalf("state not padded to canonical dim: %d", len(s.State))
	}
	for i := 5; i < 8; i++ {
		if s.State[i] != 0 {
			t.Fatalf("padding at %d is %v, want 0", i, s.State[i])
		}
	}
	if len(s.PrevState) != 5 {
		t.Fatalf("true state must keep embodiment dim: %d", len(s.PrevState))
	}
	if s.Prompt != "stack the cups" {
		t.Fatalf("prompt mismatch: %q", s.Prompt)
	}
}

func TestForwardMissingStateKey(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	raw := testRaw()
	delete(raw, RawKeyState)
	_, err := p.Forward(raw)
	var missing protocol.MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if missing.Key != RawKeyState {
		t.Fatalf("missing key: %q", missing.Key)
	}
}

func TestForwardMissingCameraKey(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	raw := testRaw()
	delete(raw, "observation.images.top")
	_, err := p.Forward(raw)
	var missing protocol.MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
}

func TestForwardIgnoresUnknownRawKeys(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	raw := testRaw()
	raw["observation.extra_sensor"] = []float32{1, 2, 3}
	if _, err := p.Forward(raw); err != nil {
		t.Fatalf("unknown raw key must be ignored: %v", err)
	}
}

func TestForwardPadsNarrowActionLabels(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	raw := testRaw()
	raw[RawKeyActions] = canonical.ActionChunk{{0.1, 0.2}, {0.3, 0.4}}
	s, err := p.Forward(raw)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(s.Actions) != 2 {
		t.Fatalf("label rows: %d", len(s.Actions))
	}
	for _, row := range s.Actions {
		if len(row) != 6 {
			t.Fatalf("label row not padded to canonical action dim: %d", len(row))
		}
	}
}

func TestBackwardUndoesForwardOnDeltaDims(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	// Three consecutive absolute action targets for the arm.
	labels := canonical.ActionChunk{
		{0.2, 0.3, 0.4, 0.5, 1.0},
		{0.3, 0.4, 0.5, 0.6, 0.0},
		{0.5, 0.6, 0.7, 0.8, 1.0},
	}
	raw := testRaw()
	raw[RawKeyActions] = labels.Clone()

	s, err := p.Forward(raw)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	restored, err := p.Backward(s.Actions, s.PrevState)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-5
	for ti, row := range labels {
		for i := range row {
			got := restored[ti][i]
			if diff := got - row[i]; diff > eps || diff < -eps {
				t.Fatalf("row %d dim %d: got %v want %v", ti, i, got, row[i])
			}
		}
	}
}

func TestFastVariantKeepsActionsAbsolute(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantFast)

	chunk := canonical.ActionChunk{{0.5, 0.5, 0.5, 0.5, 1.0, 0}}
	out, err := p.Backward(chunk.Clone(), []float32{0.1, 0.1, 0.1, 0.1, 0.1})
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if out[0][0] != 0.5 {
		t.Fatalf("fast variant must not re-integrate, got %v", out[0][0])
	}
}

func TestEmbodyTrimsToTrueDim(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	chunk := canonical.ActionChunk{{1, 2, 3, 4, 5, 6}}
	out, err := p.Embody(chunk)
	if err != nil {
		t.Fatalf("embody: %v", err)
	}
	if len(out[0]) != 5 {
		t.Fatalf("trimmed width: %d", len(out[0]))
	}
	if out[0][4] != 5 {
		t.Fatalf("trim kept wrong values: %v", out[0])
	}
}

func TestEmbodyRejectsNarrowChunk(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	if _, err := p.Embody(canonical.ActionChunk{{1, 2}}); err == nil {
		t.Fatal("expected error for chunk narrower than embodiment dim")
	}
}

func TestNormalizeFillsMissingSlotAndPadsState(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	obs := canonical.Observation{
		State:     []float32{1, 2, 3},
		Images:    map[string]canonical.Image{"main": canonical.ZeroImage(8, 8)},
		ImageMask: map[string]bool{"main": true},
	}
	if err := p.Normalize(&obs); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(obs.State) != 8 {
		t.Fatalf("state not padded: %d", len(obs.State))
	}
	wrist, ok := obs.Images["wrist"]
	if !ok || obs.ImageMask["wrist"] {
		t.Fatalf("missing slot must be zero-filled with mask=false")
	}
	if wrist.H != 8 || wrist.W != 8 {
		t.Fatalf("fill size should match populated slot: %dx%d", wrist.H, wrist.W)
	}
}

func TestNormalizeRejectsOversizedState(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	obs := canonical.Observation{State: make([]float32, 9)}
	err := p.Normalize(&obs)
	var perr *protocol.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.Code != protocol.CodeShapeMismatch {
		t.Fatalf("expected SHAPE_MISMATCH, got %v", perr.Code)
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	testlog.Start(t)
	_, err := New(testSpec(), testInterface(), Variant("diffusion"))
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestNewRejectsIncompatibleSpec(t *testing.T) {
	testlog.Start(t)
	spec := testSpec()
	spec.Cameras = map[string]string{"overhead": "observation.images.top"}
	if _, err := New(spec, testInterface(), VariantBase); !errors.Is(err, canonical.ErrInvalidEmbodiment) {
		t.Fatalf("expected ErrInvalidEmbodiment, got %v", err)
	}
}

func TestFloatImageCoercion(t *testing.T) {
	testlog.Start(t)
	p := newTestPipeline(t, VariantBase)

	data := make([]float32, 2*2*3)
	for i := range data {
		data[i] = 1.0
	}
	raw := testRaw()
	raw["observation.images.top"] = FloatImage{H: 2, W: 2, Data: data}

	s, err := p.Forward(raw)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	img := s.Images["main"]
	if img.Pix[0] != 255 {
		t.Fatalf("float 1.0 should quantize to 255, got %d", img.Pix[0])
	}
}
