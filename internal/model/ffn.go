package model

import (
	"fmt"

	"github.com/ak42/llamacpu/internal/tensor"
)

// FFN is the SwiGLU feed-forward block: silu(w1*x) * (w3*x), projected back
// down by w2.
type FFN struct {
	w1, w2, w3 *Linear

	hb, hb2 tensor.FloatTensor
	hbT     *tensor.Tensor
}

// NewFFN builds the three projections and scratch buffers for one FFN
// layer.
func NewFFN(cfg Config) *FFN {
	dim := int(cfg.Dim)
	hidden := int(cfg.HiddenDim)
	return &FFN{
		w1:  NewLinear(dim, hidden),
		w2:  NewLinear(hidden, dim),
		w3:  NewLinear(dim, hidden),
		hb:  make(tensor.FloatTensor, hidden),
		hb2: make(tensor.FloatTensor, hidden),
		hbT: tensor.NewFloat(hidden),
	}
}

// SetWeights attaches the three projection weights for this layer.
func (f *FFN) SetWeights(w1, w2, w3 any) error {
	if err := f.w1.SetWeights(w1); err != nil {
		return fmt.Errorf("model: ffn w1: %w", err)
	}
	if err := f.w2.SetWeights(w2); err != nil {
		return fmt.Errorf("model: ffn w2: %w", err)
	}
	if err := f.w3.SetWeights(w3); err != nil {
		return fmt.Errorf("model: ffn w3: %w", err)
	}
	return nil
}

// Forward computes out = w2 * (silu(w1*x) * (w3*x)). x and out must have
// length Dim.
func (f *FFN) Forward(x *tensor.Tensor, out tensor.FloatTensor) error {
	if err := f.w1.Forward(x, f.hb); err != nil {
		return fmt.Errorf("model: ffn w1 forward: %w", err)
	}
	if err := f.w3.Forward(x, f.hb2); err != nil {
		return fmt.Errorf("model: ffn w3 forward: %w", err)
	}
	hbT := f.hbT.FMut()
	tensor.SwiGLU(f.hb, f.hb2, hbT)
	if err := f.w2.Forward(f.hbT, out); err != nil {
		return fmt.Errorf("model: ffn w2 forward: %w", err)
	}
	return nil
}
