package model

import (
	"errors"
	"fmt"

	"github.com/ak42/llamacpu/internal/tensor"
)

// ErrShapeMismatch is returned by Linear.Forward when the input or output
// buffer length does not match the layer's declared dimensions.
var ErrShapeMismatch = errors.New("model: shape mismatch")

// Linear is a single weight matrix projecting inDim features to outDim
// features: out = W*x, with W laid out row-major (outDim, inDim). The
// weight tensor carries its own float/quantized representation and is
// matmul'd in whichever representation is already valid, preferring the
// quantized path.
type Linear struct {
	inDim, outDim int
	weight        *tensor.Tensor
}

// NewLinear declares a Linear layer of the given shape with no weight
// attached yet.
func NewLinear(inDim, outDim int) *Linear {
	return &Linear{inDim: inDim, outDim: outDim}
}

// SetWeights attaches the layer's weight tensor. A *tensor.Tensor is
// adopted directly (used for a shared classifier, which aliases the token
// embedding table); a FloatTensor or QuantizedTensor is wrapped in a fresh
// Tensor.
func (l *Linear) SetWeights(w any) error {
	switch v := w.(type) {
	case *tensor.Tensor:
		l.weight = v
	case tensor.FloatTensor:
		t := tensor.New(len(v))
		if err := t.AssignFloat(v); err != nil {
			return err
		}
		l.weight = t
	case tensor.QuantizedTensor:
		t := tensor.New(len(v.Q))
		if err := t.AssignQuantized(v); err != nil {
			return err
		}
		l.weight = t
	default:
		return fmt.Errorf("model: unsupported weight type %T", w)
	}
	return nil
}

// Forward computes out = W*x. x must have length inDim and out must have
// length outDim. If the weight tensor already holds a valid quantized
// payload, x is quantized with the same group size and the quantized
// kernel is used; otherwise the float kernel is used.
func (l *Linear) Forward(x *tensor.Tensor, out tensor.FloatTensor) error {
	if x.Len() != l.inDim {
		return fmt.Errorf("%w: input length %d != inDim %d", ErrShapeMismatch, x.Len(), l.inDim)
	}
	if len(out) != l.outDim {
		return fmt.Errorf("%w: output length %d != outDim %d", ErrShapeMismatch, len(out), l.outDim)
	}

	if wq, err := l.weight.QConst(); err == nil {
		xq, err := x.QConstGroup(wq.GroupSize)
		if err != nil {
			return fmt.Errorf("model: quantize activation for linear: %w", err)
		}
		return tensor.MatmulQuantized(out, xq, wq, l.outDim, l.inDim)
	}

	tensor.MatmulFloat(out, x.FConst(), l.weight.FConst(), l.outDim, l.inDim)
	return nil
}
