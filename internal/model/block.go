package model

import (
	"fmt"

	"github.com/ak42/llamacpu/internal/tensor"
)

// TransformerBlock is one pre-norm residual layer: attention, then FFN,
// each preceded by RMSNorm and followed by a residual add.
type TransformerBlock struct {
	attentionNorm tensor.FloatTensor
	ffnNorm       tensor.FloatTensor

	attn *CausalAttention
	ffn  *FFN

	xb, xb2 tensor.FloatTensor
	xbT     *tensor.Tensor
}

// NewTransformerBlock builds one block's attention, FFN, and scratch
// buffers.
func NewTransformerBlock(cfg Config) *TransformerBlock {
	dim := int(cfg.Dim)
	return &TransformerBlock{
		attn: NewCausalAttention(cfg),
		ffn:  NewFFN(cfg),
		xb:   make(tensor.FloatTensor, dim),
		xb2:  make(tensor.FloatTensor, dim),
		xbT:  tensor.NewFloat(dim),
	}
}

// Reset rewinds this block's attention cursor, discarding its KV cache.
func (b *TransformerBlock) Reset() {
	b.attn.Reset()
}

// SetWeights attaches the norm weights and delegates projection weights to
// the attention and FFN sublayers.
func (b *TransformerBlock) SetWeights(lw LayerWeights) error {
	b.attentionNorm = lw.AttentionNorm.FConst()
	b.ffnNorm = lw.FFNNorm.FConst()
	if err := b.attn.SetWeights(lw.WQ, lw.WK, lw.WV, lw.WO); err != nil {
		return err
	}
	return b.ffn.SetWeights(lw.W1, lw.W2, lw.W3)
}

// Forward runs attention and FFN over x, writing the residual-summed
// result to out. x and out must both have length Dim and must not alias
// each other.
func (b *TransformerBlock) Forward(x *tensor.Tensor, out tensor.FloatTensor) error {
	tensor.RMSNorm(b.xb, x.FConst(), b.attentionNorm)
	copy(b.xbT.FMut(), b.xb)

	if err := b.attn.Forward(b.xbT, b.xb2); err != nil {
		return fmt.Errorf("model: block attention: %w", err)
	}
	xf := x.FConst()
	for i := range b.xb2 {
		b.xb2[i] += xf[i]
	}

	tensor.RMSNorm(b.xb, b.xb2, b.ffnNorm)
	copy(b.xbT.FMut(), b.xb)
	if err := b.ffn.Forward(b.xbT, out); err != nil {
		return fmt.Errorf("model: block ffn: %w", err)
	}
	for i := range out {
		out[i] += b.xb2[i]
	}
	return nil
}
