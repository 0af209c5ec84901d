package model

import (
	"fmt"

	"github.com/ak42/llamacpu/internal/tensor"
)

// Transformer owns the full weight stack and the ping-pong activation
// buffers shared across every block's forward pass.
type Transformer struct {
	cfg Config

	tokenEmbedding tensor.FloatTensor
	blocks         []*TransformerBlock
	finalNorm      tensor.FloatTensor
	classifier     *Linear

	x, xb *tensor.Tensor
}

// New builds a Transformer's block stack and activation buffers for cfg,
// leaving weights unattached.
func New(cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dim := int(cfg.Dim)
	t := &Transformer{
		cfg:        cfg,
		blocks:     make([]*TransformerBlock, cfg.NLayers),
		classifier: NewLinear(dim, int(cfg.VocabSize)),
		x:          tensor.NewFloat(dim),
		xb:         tensor.NewFloat(dim),
	}
	for i := range t.blocks {
		t.blocks[i] = NewTransformerBlock(cfg)
	}
	return t, nil
}

// Reset rewinds every block's attention cursor, discarding the KV cache
// state built up by prior Forward calls. Use this when resuming generation
// from a token sequence that does not extend the one already fed in.
func (t *Transformer) Reset() {
	for _, block := range t.blocks {
		block.Reset()
	}
}

// LoadWeights attaches every weight tensor from w to the transformer's
// embedding table, blocks, final norm, and classifier.
func (t *Transformer) LoadWeights(w *Weights) error {
	if len(w.Layers) != len(t.blocks) {
		return fmt.Errorf("model: checkpoint has %d layers, want %d", len(w.Layers), len(t.blocks))
	}
	t.tokenEmbedding = w.TokenEmbedding.FConst()
	t.finalNorm = w.FinalNorm.FConst()

	for i, block := range t.blocks {
		if err := block.SetWeights(w.Layers[i]); err != nil {
			return fmt.Errorf("model: layer %d: %w", i, err)
		}
	}

	return t.classifier.SetWeights(w.Classifier)
}

// Forward runs the full stack for one token, writing vocabSize logits.
// token must be a valid row index into the embedding table; logits must
// have length VocabSize.
func (t *Transformer) Forward(token int, logits tensor.FloatTensor) error {
	dim := int(t.cfg.Dim)
	if token < 0 || token >= int(t.cfg.VocabSize) {
		return fmt.Errorf("model: token %d out of range [0,%d)", token, t.cfg.VocabSize)
	}
	if len(logits) != int(t.cfg.VocabSize) {
		return fmt.Errorf("model: logits length %d != vocabSize %d", len(logits), t.cfg.VocabSize)
	}

	row := t.tokenEmbedding[token*dim : token*dim+dim]
	copy(t.x.FMut(), row)

	cur, next := t.x, t.xb
	for _, block := range t.blocks {
		if err := block.Forward(cur, next.FMut()); err != nil {
			return err
		}
		cur, next = next, cur
	}

	tensor.RMSNorm(next.FMut(), cur.FConst(), t.finalNorm)

	return t.classifier.Forward(next, logits)
}
