package model

import (
	"context"
	"fmt"

	"github.com/okaneko/policylink/internal/canonical"
	"github.com/okaneko/policylink/internal/checkpoint"
)

// Parameter paths the linear policy reads from a checkpoint tree.
const (
	PathActionInKernel  = "action_in_proj.kernel"
	PathActionOutKernel = "action_out_proj.kernel"
	PathActionOutBias   = "action_out_proj.bias"
)

// InitTree returns a zero-initialized parameter tree shaped for the
// given interface. It is the merge target when resuming from a
// checkpoint whose action dimensionality differs.
func InitTree(iface canonical.Interface) checkpoint.Tree {
	return checkpoint.Tree{
		PathActionInKernel: checkpoint.Tensor{
			Shape: []int{iface.ActionDim, iface.StateDim},
			Data:  make([]float32, iface.ActionDim*iface.StateDim),
		},
		PathActionOutKernel: checkpoint.Tensor{
			Shape: []int{iface.StateDim, iface.ActionDim},
			Data:  make([]float32, iface.StateDim*iface.ActionDim),
		},
		PathActionOutBias: checkpoint.Tensor{
			Shape: []int{iface.ActionDim},
			Data:  make([]float32, iface.ActionDim),
		},
	}
}

// Linear is a deterministic affine policy over the canonical state:
// every action in the chunk is W^T·state + bias. It stands in for the
// learned model during serving-path development and tests.
type Linear struct {
	id     string
	iface  canonical.Interface
	kernel checkpoint.Tensor
	bias   checkpoint.Tensor
}

// NewLinear builds a linear policy from a (typically merged) tree.
func NewLinear(id string, iface canonical.Interface, tree checkpoint.Tree) (*Linear, error) {
	kernel, err := tree.Get(PathActionOutKernel)
	if err != nil {
		return nil, err
	}
	bias, err := tree.Get(PathActionOutBias)
	if err != nil {
		return nil, err
	}
	want := checkpoint.Tensor{Shape: []int{iface.StateDim, iface.ActionDim}}
	if !kernel.SameShape(want) {
		return nil, fmt.Errorf("model: kernel shape %v does not fit interface (%d,%d)", kernel.Shape, iface.StateDim, iface.ActionDim)
	}
	if len(bias.Shape) != 1 || bias.Shape[0] != iface.ActionDim {
		return nil, fmt.Errorf("model: bias shape %v does not fit action_dim %d", bias.Shape, iface.ActionDim)
	}
	return &Linear{id: id, iface: iface, kernel: kernel, bias: bias}, nil
}

func (l *Linear) ModelID() string { return l.id }

func (l *Linear) Infer(ctx context.Context, obs canonical.Observation) (canonical.ActionChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(obs.State) != l.iface.StateDim {
		return nil, fmt.Errorf("model: state dim %d, want %d", len(obs.State), l.iface.StateDim)
	}

	row := make([]float32, l.iface.ActionDim)
	for j := 0; j < l.iface.ActionDim; j++ {
		acc := l.bias.Data[j]
		for i := 0; i < l.iface.StateDim; i++ {
			acc += l.kernel.Data[i*l.iface.ActionDim+j] * obs.State[i]
		}
		row[j] = acc
	}

	chunk := make(canonical.ActionChunk, l.iface.ActionHorizon)
	for t := range chunk {
		chunk[t] = append([]float32(nil), row...)
	}
	return chunk, nil
}
