package broker

import "testing"

func TestGripperBinarizationBoundary(t *testing.T) {
	post := NewPostProcessor(armSpec())

	cases := []struct {
		in   float32
		want float32
	}{
		{0.49, 0.0},
		{0.5, 0.0},
		{0.51, 1.0},
		{1.0, 1.0},
		{0.0, 0.0},
	}
	for _, tc := range cases {
		out := post.Apply([]float32{0, 0, 0, tc.in})
		if out[3] != tc.want {
			t.Fatalf("binarize(%v) = %v, want %v", tc.in, out[3], tc.want)
		}
	}
}

func TestClippingToSafeRange(t *testing.T) {
	post := NewPostProcessor(armSpec())

	out := post.Apply([]float32{1.5, -2.0, 0.3, 0.9})
	want := []float32{1.0, -1.0, 0.3, 1.0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("clip dim %d: got %v want %v", i, out[i], want[i])
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	post := NewPostProcessor(armSpec())

	in := []float32{5, 5, 5, 5}
	_ = post.Apply(in)
	if in[0] != 5 || in[3] != 5 {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestApplyWithoutSafeRange(t *testing.T) {
	spec := armSpec()
	spec.SafeLow = nil
	spec.SafeHigh = nil
	post := NewPostProcessor(spec)

	out := post.Apply([]float32{3.5, -3.5, 0, 0.75})
	if out[0] != 3.5 || out[1] != -3.5 {
		t.Fatalf("no-range spec must not clip: %v", out)
	}
	if out[3] != 1.0 {
		t.Fatalf("binarize must still apply: %v", out[3])
	}
}
