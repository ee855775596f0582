package checkpoint

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrBadTensor   = errors.New("checkpoint: malformed tensor")
	ErrUnknownPath = errors.New("checkpoint: unknown parameter path")
)

// Tensor is one named parameter's shape and flat row-major data.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrBadTensor)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dim %d", ErrBadTensor, d)
		}
	}
	if len(t.Data) != t.Elems() {
		return fmt.Errorf("%w: %d values for shape %v", ErrBadTensor, len(t.Data), t.Shape)
	}
	return nil
}

// SameShape reports whether both tensors have identical shapes.
func (t Tensor) SameShape(o Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

func (t Tensor) clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Tree maps dotted parameter paths to tensors. Built once at load time
// and treated as immutable for the serving lifetime.
type Tree map[string]Tensor

func (tr Tree) Validate() error {
	for path, t := range tr {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// Paths returns all parameter paths in sorted order.
func (tr Tree) Paths() []string {
	out := make([]string, 0, len(tr))
	for path := range tr {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Get returns the tensor at path.
func (tr Tree) Get(path string) (Tensor, error) {
	t, ok := tr[path]
	if !ok {
		return Tensor{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return t, nil
}
