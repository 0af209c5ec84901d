// Package model implements the transformer forward pass: layer norms,
// linear projections, causal attention with a KV cache, the SwiGLU feed
// forward network, and the block/transformer composition that ties them
// together with residual connections.
package model

import "fmt"

// Config is the fixed shape of a checkpoint, read from its header.
type Config struct {
	Dim              int32
	HiddenDim        int32
	NLayers          int32
	NHeads           int32
	NKVHeads         int32
	VocabSize        int32
	SeqLength        int32
	SharedClassifier bool
}

// HeadSize returns dim/nHeads, the per-head feature width.
func (c Config) HeadSize() int { return int(c.Dim) / int(c.NHeads) }

// KVDim returns the flattened size of one KV cache slot:
// dim*nKVHeads/nHeads.
func (c Config) KVDim() int { return int(c.Dim) * int(c.NKVHeads) / int(c.NHeads) }

// KVMul returns how many query heads share one KV head.
func (c Config) KVMul() int { return int(c.NHeads) / int(c.NKVHeads) }

// Validate checks the shape invariants a checkpoint must satisfy.
func (c Config) Validate() error {
	if c.Dim <= 0 || c.HiddenDim <= 0 || c.NLayers <= 0 || c.NHeads <= 0 ||
		c.NKVHeads <= 0 || c.VocabSize <= 0 || c.SeqLength <= 0 {
		return fmt.Errorf("model: config field must be positive: %+v", c)
	}
	if c.Dim%c.NHeads != 0 {
		return fmt.Errorf("model: dim %d not divisible by nHeads %d", c.Dim, c.NHeads)
	}
	if c.NHeads%c.NKVHeads != 0 {
		return fmt.Errorf("model: nHeads %d not divisible by nKVHeads %d", c.NHeads, c.NKVHeads)
	}
	if c.HeadSize()%2 != 0 {
		return fmt.Errorf("model: head size %d must be even for rotary embedding", c.HeadSize())
	}
	return nil
}
