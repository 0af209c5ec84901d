package model

import "testing"

func TestConfigDerivedDims(t *testing.T) {
	c := Config{Dim: 16, HiddenDim: 32, NLayers: 2, NHeads: 4, NKVHeads: 2, VocabSize: 10, SeqLength: 8}
	if c.HeadSize() != 4 {
		t.Fatalf("HeadSize = %d, want 4", c.HeadSize())
	}
	if c.KVDim() != 8 {
		t.Fatalf("KVDim = %d, want 8", c.KVDim())
	}
	if c.KVMul() != 2 {
		t.Fatalf("KVMul = %d, want 2", c.KVMul())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidateRejectsBadShapes(t *testing.T) {
	cases := []Config{
		{Dim: 0, HiddenDim: 32, NLayers: 1, NHeads: 4, NKVHeads: 2, VocabSize: 10, SeqLength: 8},
		{Dim: 15, HiddenDim: 32, NLayers: 1, NHeads: 4, NKVHeads: 2, VocabSize: 10, SeqLength: 8},
		{Dim: 16, HiddenDim: 32, NLayers: 1, NHeads: 3, NKVHeads: 2, VocabSize: 10, SeqLength: 8},
		{Dim: 24, HiddenDim: 32, NLayers: 1, NHeads: 8, NKVHeads: 2, VocabSize: 10, SeqLength: 8},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error, got nil for %+v", i, c)
		}
	}
}
