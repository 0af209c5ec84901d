package tensor

import (
	"fmt"
	"math"
)

// Quantize splits x into groups of groupSize consecutive values and
// produces one int8 code and float32 scale per group: scale = max(|x|)/127,
// q[i] = round(x[i]/scale). A group that is all zero keeps scale zero and
// every code zero.
func Quantize(x FloatTensor, groupSize uint32) QuantizedTensor {
	n := len(x)
	g := int(groupSize)
	numGroups := n / g
	q := make(Int8Tensor, n)
	s := make(FloatTensor, numGroups)
	for grp := 0; grp < numGroups; grp++ {
		base := grp * g
		var maxAbs float32
		for i := 0; i < g; i++ {
			v := x[base+i]
			if v < 0 {
				v = -v
			}
			if v > maxAbs {
				maxAbs = v
			}
		}
		if maxAbs == 0 {
			continue
		}
		scale := maxAbs / 127
		s[grp] = scale
		inv := 1 / scale
		for i := 0; i < g; i++ {
			q[base+i] = int8(math.Round(float64(x[base+i] * inv)))
		}
	}
	return QuantizedTensor{GroupSize: groupSize, Q: q, S: s}
}

// Dequantize expands a quantized payload back into float32 values:
// x[i] = q[i] * s[i/groupSize].
func Dequantize(q QuantizedTensor) FloatTensor {
	g := int(q.GroupSize)
	out := make(FloatTensor, len(q.Q))
	for i, v := range q.Q {
		out[i] = float32(v) * q.S[i/g]
	}
	return out
}

// MatmulFloat computes out[i] = sum_j x[j]*w[i*cols+j] for i in [0,rows),
// with w laid out row-major (rows, cols). Rows are dispatched across the
// shared worker pool.
func MatmulFloat(out, x, w FloatTensor, rows, cols int) {
	ParallelRows(rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			row := w[i*cols : i*cols+cols]
			var sum float32
			for j, xv := range x {
				sum += row[j] * xv
			}
			out[i] = sum
		}
	})
}

// MatmulQuantized computes the group-quantized equivalent of MatmulFloat:
// for each output row i, out[i] = sum over groups of
// (sum_{j in group} x.q[j]*w.q[i*cols+j]) * w.s[row group scale] * x.s[group].
// x and w must share the same group size.
func MatmulQuantized(out FloatTensor, x, w QuantizedTensor, rows, cols int) error {
	if x.GroupSize != w.GroupSize {
		return fmt.Errorf("matmulQuantized: group size mismatch %d != %d", x.GroupSize, w.GroupSize)
	}
	g := int(x.GroupSize)
	if cols%g != 0 {
		return fmt.Errorf("matmulQuantized: cols %d not a multiple of group size %d", cols, g)
	}
	groupsPerRow := cols / g
	ParallelRows(rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			rowBase := i * cols
			scaleBase := i * groupsPerRow
			var sum float32
			for grp := 0; grp < groupsPerRow; grp++ {
				base := grp * g
				var acc int32
				qrow := w.Q[rowBase+base : rowBase+base+g]
				qx := x.Q[base : base+g]
				for j := 0; j < g; j++ {
					acc += int32(qrow[j]) * int32(qx[j])
				}
				sum += float32(acc) * w.S[scaleBase+grp] * x.S[grp]
			}
			out[i] = sum
		}
	})
	return nil
}

// RMSNorm computes out[i] = (x[i]/sqrt(mean(x^2)+eps)) * w[i].
func RMSNorm(out, x, w FloatTensor) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss = ss/float32(len(x)) + 1e-5
	inv := float32(1.0 / math.Sqrt(float64(ss)))
	for i, v := range x {
		out[i] = v * inv * w[i]
	}
}

// Softmax normalizes x in place: subtract max, exponentiate, divide by sum.
func Softmax(x FloatTensor) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float32
	for i, v := range x {
		e := float32(math.Exp(float64(v - maxv)))
		x[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := 1 / sum
	for i := range x {
		x[i] *= inv
	}
}

// Silu computes the SiLU (sigmoid linear unit) activation x / (1+e^-x).
func Silu(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

// SwiGLU computes out[i] = silu(a[i]) * b[i].
func SwiGLU(a, b, out FloatTensor) {
	for i, av := range a {
		out[i] = Silu(av) * b[i]
	}
}

// ropeBase is the rotary frequency base used by Llama-3 style models.
const ropeBase = 500000

// ApplyRotaryEmbedding rotates each pair of adjacent features within every
// query head by a position-dependent angle, and does the same for key heads
// (key has only nKVHeads heads, shared across kvMul query heads).
func ApplyRotaryEmbedding(q, k FloatTensor, pos, nHeads, headSize, nKVHeads int) {
	for h := 0; h < nHeads; h++ {
		rotateHead(q[h*headSize:h*headSize+headSize], pos, headSize)
		if h < nKVHeads {
			rotateHead(k[h*headSize:h*headSize+headSize], pos, headSize)
		}
	}
}

func rotateHead(v FloatTensor, pos, headSize int) {
	for j := 0; j < headSize; j += 2 {
		freq := 1.0 / math.Pow(ropeBase, float64(j)/float64(headSize))
		theta := float64(pos) * freq
		cosT, sinT := math.Cos(theta), math.Sin(theta)
		v0, v1 := float64(v[j]), float64(v[j+1])
		v[j] = float32(v0*cosT - v1*sinT)
		v[j+1] = float32(v0*sinT + v1*cosT)
	}
}
