package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/okaneko/policylink/internal/testutil/testlog"
)

func zeros(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

func filled(v float32, shape ...int) Tensor {
	t := zeros(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func TestMergeKeepsTargetOnShapeMismatch(t *testing.T) {
	testlog.Start(t)

	target := Tree{
		"action_in_proj.kernel": zeros(6, 1024),
		"encoder.kernel":        zeros(1024, 1024),
	}
	source := Tree{
		"action_in_proj.kernel": filled(3.5, 32, 1024),
		"encoder.kernel":        filled(1.25, 1024, 1024),
	}

	merged, warnings := Merge(target, source)

	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(warnings))
	}
	w := warnings[0]
	if w.Path != "action_in_proj.kernel" {
		t.Fatalf("warning path: %q", w.Path)
	}
	if len(w.TargetShape) != 2 || w.TargetShape[0] != 6 || w.SourceShape[0] != 32 {
		t.Fatalf("warning shapes: target=%v source=%v", w.TargetShape, w.SourceShape)
	}

	kept := merged["action_in_proj.kernel"]
	if kept.Shape[0] != 6 || kept.Data[0] != 0 {
		t.Fatalf("mismatched path must keep target init, got shape=%v data[0]=%v", kept.Shape, kept.Data[0])
	}
	copied := merged["encoder.kernel"]
	if copied.Data[0] != 1.25 {
		t.Fatalf("matching path must copy source, got %v", copied.Data[0])
	}
}

func TestMergePathOnlyInTargetStaysInitialized(t *testing.T) {
	testlog.Start(t)

	target := Tree{"head.bias": filled(0.5, 8)}
	merged, warnings := Merge(target, Tree{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if merged["head.bias"].Data[0] != 0.5 {
		t.Fatalf("target-only path changed: %v", merged["head.bias"].Data[0])
	}
}

func TestMergeDropsSourceOnlyPaths(t *testing.T) {
	testlog.Start(t)

	merged, _ := Merge(Tree{}, Tree{"ghost.kernel": zeros(4)})
	if _, ok := merged["ghost.kernel"]; ok {
		t.Fatal("source-only path must be dropped")
	}
}

func TestMergeDoesNotAliasSourceData(t *testing.T) {
	testlog.Start(t)

	source := Tree{"w": filled(2, 4)}
	merged, _ := Merge(Tree{"w": zeros(4)}, source)
	source["w"].Data[0] = 99
	if merged["w"].Data[0] != 2 {
		t.Fatalf("merged tree aliases source storage: %v", merged["w"].Data[0])
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "ckpt.json")
	in := Tree{
		"action_out_proj.kernel": filled(0.75, 1024, 6),
		"action_out_proj.bias":   zeros(6),
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 params, got %d", len(out))
	}
	k := out["action_out_proj.kernel"]
	if len(k.Shape) != 2 || k.Shape[1] != 6 || k.Data[0] != 0.75 {
		t.Fatalf("kernel mismatch: shape=%v data[0]=%v", k.Shape, k.Data[0])
	}
}
