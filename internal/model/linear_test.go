package model

import (
	"errors"
	"testing"

	"github.com/ak42/llamacpu/internal/tensor"
)

func approxEqual(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestLinearForwardFloat(t *testing.T) {
	l := NewLinear(3, 2)
	if err := l.SetWeights(tensor.FloatTensor{1, 0, 0, 0, 1, 0}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	x := tensor.New(3)
	if err := x.AssignFloat(tensor.FloatTensor{5, 6, 7}); err != nil {
		t.Fatalf("AssignFloat: %v", err)
	}
	out := make(tensor.FloatTensor, 2)
	if err := l.Forward(x, out); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out[0] != 5 || out[1] != 6 {
		t.Fatalf("out = %v, want [5 6]", out)
	}
}

func TestLinearForwardQuantizedMatchesFloat(t *testing.T) {
	wf := tensor.FloatTensor{1, -2, 3, -4, 0.5, -0.5, 2, -2}
	xf := tensor.FloatTensor{1, 1, 1, 1, 1, 1, 1, 1}

	want := make(tensor.FloatTensor, 1)
	tensor.MatmulFloat(want, xf, wf, 1, 8)

	l := NewLinear(8, 1)
	wq := tensor.Quantize(wf, 4)
	if err := l.SetWeights(wq); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	x := tensor.New(8)
	if err := x.AssignFloat(xf); err != nil {
		t.Fatalf("AssignFloat: %v", err)
	}
	out := make(tensor.FloatTensor, 1)
	if err := l.Forward(x, out); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !approxEqual(out[0], want[0], 1.5) {
		t.Fatalf("out = %v, want ~%v", out[0], want[0])
	}
}

func TestLinearForwardShapeMismatch(t *testing.T) {
	l := NewLinear(3, 2)
	if err := l.SetWeights(tensor.FloatTensor{1, 0, 0, 0, 1, 0}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	x := tensor.New(4)
	x.AssignFloat(tensor.FloatTensor{1, 2, 3, 4})
	out := make(tensor.FloatTensor, 2)
	if err := l.Forward(x, out); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Forward = %v, want ErrShapeMismatch", err)
	}
}

func TestLinearSharedWeightAliasing(t *testing.T) {
	shared := tensor.New(4)
	shared.AssignFloat(tensor.FloatTensor{1, 0, 0, 1})

	a := NewLinear(2, 2)
	b := NewLinear(2, 2)
	if err := a.SetWeights(shared); err != nil {
		t.Fatalf("a.SetWeights: %v", err)
	}
	if err := b.SetWeights(shared); err != nil {
		t.Fatalf("b.SetWeights: %v", err)
	}
	if a.weight != b.weight {
		t.Fatalf("expected shared weight to alias the same Tensor")
	}
}
