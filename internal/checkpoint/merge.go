package checkpoint

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ShapeMismatchWarning records one parameter kept at its target
// initialization because the source checkpoint's shape differs.
type ShapeMismatchWarning struct {
	Path        string
	TargetShape []int
	SourceShape []int
}

func (w ShapeMismatchWarning) String() string {
	return fmt.Sprintf("shape mismatch at %s: target=%v source=%v", w.Path, w.TargetShape, w.SourceShape)
}

// Merge transplants source parameters into a copy of target by matching
// path. Identical shapes copy the source value; shape mismatches keep
// the target's freshly-initialized value and emit a warning; paths only
// in target stay as initialized; paths only in source are dropped.
//
// Mismatches are never fatal: this is what lets a backbone pretrained on
// a wider action space be resumed for a task with fewer action
// dimensions, re-learning only the projection heads whose shape changed.
func Merge(target, source Tree) (Tree, []ShapeMismatchWarning) {
	merged := make(Tree, len(target))
	var warnings []ShapeMismatchWarning

	for _, path := range target.Paths() {
		tgt := target[path]
		src, ok := source[path]
		if !ok {
			merged[path] = tgt.clone()
			continue
		}
		if !tgt.SameShape(src) {
			warnings = append(warnings, ShapeMismatchWarning{
				Path:        path,
				TargetShape: append([]int(nil), tgt.Shape...),
				SourceShape: append([]int(nil), src.Shape...),
			})
			merged[path] = tgt.clone()
			continue
		}
		merged[path] = src.clone()
	}

	for _, w := range warnings {
		log.Warn().
			Str("path", w.Path).
			Ints("target_shape", w.TargetShape).
			Ints("source_shape", w.SourceShape).
			Msg("checkpoint parameter kept at init")
	}
	return merged, warnings
}
