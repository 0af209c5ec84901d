package model

import (
	"fmt"
	"math"

	"github.com/ak42/llamacpu/internal/tensor"
)

// CausalAttention implements grouped-query causal self-attention with a
// fixed-capacity KV cache. Past seqLength tokens, the cache shifts left by
// one slot and generation continues over a rolling window rather than
// erroring.
type CausalAttention struct {
	cfg Config
	pos int

	wq, wk, wv, wo *Linear

	query tensor.FloatTensor
	att   []tensor.FloatTensor // per-head scratch, length seqLength
	xbT   *tensor.Tensor

	keyCache, valueCache []tensor.FloatTensor // length seqLength, each of length KVDim
}

// NewCausalAttention builds the projections and scratch buffers for one
// attention layer.
func NewCausalAttention(cfg Config) *CausalAttention {
	dim := int(cfg.Dim)
	kvDim := cfg.KVDim()
	seqLen := int(cfg.SeqLength)

	a := &CausalAttention{
		cfg:   cfg,
		wq:    NewLinear(dim, dim),
		wk:    NewLinear(dim, kvDim),
		wv:    NewLinear(dim, kvDim),
		wo:    NewLinear(dim, dim),
		query: make(tensor.FloatTensor, dim),
		xbT:   tensor.NewFloat(dim),
		att:   make([]tensor.FloatTensor, cfg.NHeads),

		keyCache:   make([]tensor.FloatTensor, seqLen),
		valueCache: make([]tensor.FloatTensor, seqLen),
	}
	for h := range a.att {
		a.att[h] = make(tensor.FloatTensor, seqLen)
	}
	for t := 0; t < seqLen; t++ {
		a.keyCache[t] = make(tensor.FloatTensor, kvDim)
		a.valueCache[t] = make(tensor.FloatTensor, kvDim)
	}
	return a
}

// Reset rewinds the cursor to 0, discarding the KV cache's contents
// without reallocating it.
func (a *CausalAttention) Reset() {
	a.pos = 0
}

// SetWeights attaches the four projection weights for this layer.
func (a *CausalAttention) SetWeights(wq, wk, wv, wo any) error {
	if err := a.wq.SetWeights(wq); err != nil {
		return fmt.Errorf("model: attention wq: %w", err)
	}
	if err := a.wk.SetWeights(wk); err != nil {
		return fmt.Errorf("model: attention wk: %w", err)
	}
	if err := a.wv.SetWeights(wv); err != nil {
		return fmt.Errorf("model: attention wv: %w", err)
	}
	if err := a.wo.SetWeights(wo); err != nil {
		return fmt.Errorf("model: attention wo: %w", err)
	}
	return nil
}

// Forward runs one step of causal attention over x, writing the result to
// out. x and out must both have length Dim.
func (a *CausalAttention) Forward(x *tensor.Tensor, out tensor.FloatTensor) error {
	seqLen := int(a.cfg.SeqLength)
	if a.pos == seqLen {
		firstK, firstV := a.keyCache[0], a.valueCache[0]
		copy(a.keyCache, a.keyCache[1:])
		copy(a.valueCache, a.valueCache[1:])
		a.keyCache[seqLen-1], a.valueCache[seqLen-1] = firstK, firstV
		a.pos = seqLen - 1
	}

	if err := a.wq.Forward(x, a.query); err != nil {
		return fmt.Errorf("model: attention wq forward: %w", err)
	}
	if err := a.wk.Forward(x, a.keyCache[a.pos]); err != nil {
		return fmt.Errorf("model: attention wk forward: %w", err)
	}
	if err := a.wv.Forward(x, a.valueCache[a.pos]); err != nil {
		return fmt.Errorf("model: attention wv forward: %w", err)
	}

	headSize := a.cfg.HeadSize()
	nHeads := int(a.cfg.NHeads)
	nKVHeads := int(a.cfg.NKVHeads)
	kvMul := a.cfg.KVMul()
	tensor.ApplyRotaryEmbedding(a.query, a.keyCache[a.pos], a.pos, nHeads, headSize, nKVHeads)

	pos := a.pos
	scale := float32(1.0 / math.Sqrt(float64(headSize)))
	xb := a.xbT.FMut()

	tensor.ParallelRows(nHeads, func(lo, hi int) {
		for h := lo; h < hi; h++ {
			kvHead := h / kvMul
			q := a.query[h*headSize : h*headSize+headSize]
			att := a.att[h][:pos+1]
			for t := 0; t <= pos; t++ {
				k := a.keyCache[t][kvHead*headSize : kvHead*headSize+headSize]
				var dot float32
				for i := 0; i < headSize; i++ {
					dot += q[i] * k[i]
				}
				att[t] = dot * scale
			}
			tensor.Softmax(att)

			xbHead := xb[h*headSize : h*headSize+headSize]
			for i := range xbHead {
				xbHead[i] = 0
			}
			for t := 0; t <= pos; t++ {
				v := a.valueCache[t][kvHead*headSize : kvHead*headSize+headSize]
				w := att[t]
				for i := 0; i < headSize; i++ {
					xbHead[i] += w * v[i]
				}
			}
		}
	})

	if err := a.wo.Forward(a.xbT, out); err != nil {
		return fmt.Errorf("model: attention wo forward: %w", err)
	}

	a.pos++
	return nil
}
