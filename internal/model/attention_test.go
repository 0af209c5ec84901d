package model

import (
	"testing"

	"github.com/ak42/llamacpu/internal/tensor"
)

func identityAttentionConfig() Config {
	return Config{Dim: 4, HiddenDim: 8, NLayers: 1, NHeads: 2, NKVHeads: 2, VocabSize: 10, SeqLength: 4}
}

func identityWeights(dim int) tensor.FloatTensor {
	w := make(tensor.FloatTensor, dim*dim)
	for i := 0; i < dim; i++ {
		w[i*dim+i] = 1
	}
	return w
}

func TestCausalAttentionAdvancesPosition(t *testing.T) {
	cfg := identityAttentionConfig()
	a := NewCausalAttention(cfg)
	id := identityWeights(int(cfg.Dim))
	if err := a.SetWeights(id, id, id, id); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}

	x := tensor.New(int(cfg.Dim))
	x.AssignFloat(tensor.FloatTensor{1, 0, 0, 0})
	out := make(tensor.FloatTensor, cfg.Dim)

	for i := 0; i < 3; i++ {
		if err := a.Forward(x, out); err != nil {
			t.Fatalf("Forward step %d: %v", i, err)
		}
	}
	if a.pos != 3 {
		t.Fatalf("pos = %d, want 3", a.pos)
	}
}

func TestCausalAttentionShiftsCacheAtCapacity(t *testing.T) {
	cfg := identityAttentionConfig()
	a := NewCausalAttention(cfg)
	id := identityWeights(int(cfg.Dim))
	if err := a.SetWeights(id, id, id, id); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}

	x := tensor.New(int(cfg.Dim))
	out := make(tensor.FloatTensor, cfg.Dim)
	seqLen := int(cfg.SeqLength)

	for i := 0; i < seqLen; i++ {
		vec := make(tensor.FloatTensor, cfg.Dim)
		vec[0] = float32(i + 1)
		x.AssignFloat(vec)
		if err := a.Forward(x, out); err != nil {
			t.Fatalf("Forward step %d: %v", i, err)
		}
	}
	if a.pos != seqLen {
		t.Fatalf("pos after filling cache = %d, want %d", a.pos, seqLen)
	}

	firstKey := append(tensor.FloatTensor{}, a.keyCache[0]...)

	vec := make(tensor.FloatTensor, cfg.Dim)
	vec[0] = 99
	x.AssignFloat(vec)
	if err := a.Forward(x, out); err != nil {
		t.Fatalf("Forward overflow step: %v", err)
	}
	if a.pos != seqLen {
		t.Fatalf("pos after overflow = %d, want %d", a.pos, seqLen)
	}
	if equalFloatTensor(a.keyCache[0], firstKey) {
		t.Fatalf("expected key cache to shift left, slot 0 unchanged")
	}
}

func equalFloatTensor(a, b tensor.FloatTensor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
