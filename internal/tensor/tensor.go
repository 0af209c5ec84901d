// Package tensor implements the dual-representation numeric buffer at the
// heart of the engine: a logical vector that can hold a float32 payload, a
// group-quantized int8 payload, or both, converting lazily between the two
// on first access.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrQuantNotReady is returned by QConst when no quantized payload has been
// materialized yet.
var ErrQuantNotReady = errors.New("tensor: quantized payload not ready")

// ErrReQuantizeRefused is returned by QMut when a quantized payload already
// exists with a different group size than requested.
var ErrReQuantizeRefused = errors.New("tensor: refusing to re-quantize with a different group size")

// FloatTensor is a plain ordered sequence of float32 values.
type FloatTensor []float32

// Int8Tensor is a plain ordered sequence of int8 values.
type Int8Tensor []int8

// QuantizedTensor is a group-quantized int8 payload: Q holds the quantized
// values and S holds one float32 scale per group of GroupSize consecutive
// values. len(Q) must be a multiple of GroupSize and len(S) == len(Q)/GroupSize.
type QuantizedTensor struct {
	GroupSize uint32
	Q         Int8Tensor
	S         FloatTensor
}

// Tensor is a size-tagged buffer that transparently supports a float32
// representation and a group-quantized int8 representation. At least one
// representation is valid at any time after construction with data; mutable
// access to one representation invalidates the other, and the first access
// to a missing representation materializes it from whichever is valid.
type Tensor struct {
	n      int
	f      FloatTensor
	q      QuantizedTensor
	fValid bool
	qValid bool
}

// New allocates a Tensor of logical length n with no valid payload.
func New(n int) *Tensor {
	return &Tensor{n: n}
}

// NewFloat allocates a Tensor of logical length n with a zeroed, valid
// float32 payload.
func NewFloat(n int) *Tensor {
	return &Tensor{n: n, f: make(FloatTensor, n), fValid: true}
}

// Len returns the tensor's logical length.
func (t *Tensor) Len() int { return t.n }

// IsQuantized reports whether the tensor currently holds a valid quantized
// payload without forcing a conversion.
func (t *Tensor) IsQuantized() bool { return t.qValid }

// FMut returns a mutable view of the float32 representation, dequantizing
// from the quantized payload if that is the only valid form. The quantized
// payload is invalidated: the caller is expected to mutate the returned
// slice.
func (t *Tensor) FMut() FloatTensor {
	t.ensureFloat()
	t.qValid = false
	return t.f
}

// FConst returns a read-only view of the float32 representation, without
// invalidating a valid quantized payload.
func (t *Tensor) FConst() FloatTensor {
	t.ensureFloat()
	return t.f
}

// QMut returns a mutable view of the quantized representation using the
// given group size. If a quantized payload already exists with a different
// group size, it returns ErrReQuantizeRefused rather than silently
// re-quantizing. The float payload is invalidated.
func (t *Tensor) QMut(groupSize uint32) (QuantizedTensor, error) {
	if t.qValid && t.q.GroupSize != groupSize {
		return QuantizedTensor{}, ErrReQuantizeRefused
	}
	if err := t.ensureQuant(groupSize); err != nil {
		return QuantizedTensor{}, err
	}
	t.fValid = false
	return t.q, nil
}

// QConst returns the quantized representation, requiring that one is
// already valid. It never triggers a conversion.
func (t *Tensor) QConst() (QuantizedTensor, error) {
	if !t.qValid {
		return QuantizedTensor{}, ErrQuantNotReady
	}
	return t.q, nil
}

// QConstGroup ensures a quantized representation exists for the given group
// size (quantizing from the float payload if needed) and returns it without
// invalidating the float payload.
func (t *Tensor) QConstGroup(groupSize uint32) (QuantizedTensor, error) {
	if t.qValid && t.q.GroupSize != groupSize {
		return QuantizedTensor{}, ErrReQuantizeRefused
	}
	if err := t.ensureQuant(groupSize); err != nil {
		return QuantizedTensor{}, err
	}
	return t.q, nil
}

func (t *Tensor) ensureFloat() {
	if t.fValid {
		return
	}
	if !t.qValid {
		panic("tensor: no valid payload")
	}
	t.f = Dequantize(t.q)
	t.fValid = true
}

func (t *Tensor) ensureQuant(groupSize uint32) error {
	if t.qValid {
		return nil
	}
	if !t.fValid {
		return fmt.Errorf("tensor: no valid payload to quantize")
	}
	if groupSize == 0 || t.n%int(groupSize) != 0 {
		return fmt.Errorf("tensor: length %d is not a multiple of group size %d", t.n, groupSize)
	}
	t.q = Quantize(t.f, groupSize)
	t.qValid = true
	return nil
}

// AssignFloat adopts f as the tensor's float32 payload, invalidating any
// quantized payload.
func (t *Tensor) AssignFloat(f FloatTensor) error {
	if len(f) != t.n {
		return fmt.Errorf("tensor: assign float: length %d != %d", len(f), t.n)
	}
	t.f = f
	t.fValid = true
	t.qValid = false
	return nil
}

// AssignQuantized adopts q as the tensor's quantized payload, invalidating
// any float payload.
func (t *Tensor) AssignQuantized(q QuantizedTensor) error {
	if len(q.Q) != t.n {
		return fmt.Errorf("tensor: assign quantized: length %d != %d", len(q.Q), t.n)
	}
	if q.GroupSize == 0 || t.n%int(q.GroupSize) != 0 {
		return fmt.Errorf("tensor: assign quantized: length %d not a multiple of group size %d", t.n, q.GroupSize)
	}
	if len(q.S) != t.n/int(q.GroupSize) {
		return fmt.Errorf("tensor: assign quantized: scale count %d != %d", len(q.S), t.n/int(q.GroupSize))
	}
	t.q = q
	t.qValid = true
	t.fValid = false
	return nil
}

// ReadFromStream reads a tensor payload written in the checkpoint's wire
// format: a little-endian u32 group size, followed by either N float32
// values (group size zero) or N int8 values plus N/groupSize float32 scales.
func (t *Tensor) ReadFromStream(r io.Reader) error {
	var groupSize uint32
	if err := binary.Read(r, binary.LittleEndian, &groupSize); err != nil {
		return fmt.Errorf("tensor: read group size: %w", err)
	}
	if groupSize == 0 {
		f := make(FloatTensor, t.n)
		if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
			return fmt.Errorf("tensor: read float payload: %w", err)
		}
		t.f = f
		t.fValid = true
		t.qValid = false
		return nil
	}
	if t.n%int(groupSize) != 0 {
		return fmt.Errorf("tensor: length %d not a multiple of group size %d", t.n, groupSize)
	}
	q := make(Int8Tensor, t.n)
	if err := binary.Read(r, binary.LittleEndian, &q); err != nil {
		return fmt.Errorf("tensor: read quantized payload: %w", err)
	}
	s := make(FloatTensor, t.n/int(groupSize))
	if err := binary.Read(r, binary.LittleEndian, &s); err != nil {
		return fmt.Errorf("tensor: read scales: %w", err)
	}
	t.q = QuantizedTensor{GroupSize: groupSize, Q: q, S: s}
	t.qValid = true
	t.fValid = false
	return nil
}
