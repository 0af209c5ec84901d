package model

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/ak42/llamacpu/internal/tensor"
)

func writeFloatTensorPayload(t *testing.T, f *os.File, data tensor.FloatTensor) {
	t.Helper()
	if err := binary.Write(f, binary.LittleEndian, uint32(0)); err != nil {
		t.Fatalf("write group size: %v", err)
	}
	if err := binary.Write(f, binary.LittleEndian, []float32(data)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func writeTestCheckpoint(t *testing.T, cfg Config) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ckpt-*.ak42")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	binary.Write(f, binary.LittleEndian, magic)
	binary.Write(f, binary.LittleEndian, version)
	binary.Write(f, binary.LittleEndian, cfg.Dim)
	binary.Write(f, binary.LittleEndian, cfg.HiddenDim)
	binary.Write(f, binary.LittleEndian, cfg.NLayers)
	binary.Write(f, binary.LittleEndian, cfg.NHeads)
	binary.Write(f, binary.LittleEndian, cfg.NKVHeads)
	binary.Write(f, binary.LittleEndian, cfg.VocabSize)
	binary.Write(f, binary.LittleEndian, cfg.SeqLength)
	var sc uint8
	if cfg.SharedClassifier {
		sc = 1
	}
	binary.Write(f, binary.LittleEndian, sc)
	binary.Write(f, binary.LittleEndian, [3]byte{})

	pos, _ := f.Seek(0, 1)
	pad := make([]byte, headerSize-pos)
	f.Write(pad)

	dim := int(cfg.Dim)
	hidden := int(cfg.HiddenDim)
	kvDim := cfg.KVDim()
	vocab := int(cfg.VocabSize)

	writeFloatTensorPayload(t, f, make(tensor.FloatTensor, vocab*dim))
	for l := 0; l < int(cfg.NLayers); l++ {
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*dim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*kvDim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*kvDim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*dim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*hidden))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, hidden*dim))
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*hidden))
	}
	writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim))
	if !cfg.SharedClassifier {
		writeFloatTensorPayload(t, f, make(tensor.FloatTensor, dim*vocab))
	}

	return f.Name()
}

func TestCheckpointOpenAndLoadWeights(t *testing.T) {
	cfg := Config{Dim: 4, HiddenDim: 8, NLayers: 2, NHeads: 2, NKVHeads: 2, VocabSize: 6, SeqLength: 4}
	path := writeTestCheckpoint(t, cfg)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Config != cfg {
		t.Fatalf("Config = %+v, want %+v", r.Config, cfg)
	}

	w, err := r.LoadWeights()
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if len(w.Layers) != int(cfg.NLayers) {
		t.Fatalf("layers = %d, want %d", len(w.Layers), cfg.NLayers)
	}
	if w.Classifier == w.TokenEmbedding {
		t.Fatalf("classifier should not alias embedding when SharedClassifier is false")
	}
}

func TestCheckpointSharedClassifierAliasesEmbeddingTensor(t *testing.T) {
	cfg := Config{Dim: 4, HiddenDim: 8, NLayers: 1, NHeads: 2, NKVHeads: 2, VocabSize: 6, SeqLength: 4, SharedClassifier: true}
	path := writeTestCheckpoint(t, cfg)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	w, err := r.LoadWeights()
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if w.Classifier != w.TokenEmbedding {
		t.Fatalf("expected classifier to alias the embedding tensor")
	}
}

func TestCheckpointRejectsBadMagic(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad-*.ak42")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	binary.Write(f, binary.LittleEndian, uint32(0xdeadbeef))
	binary.Write(f, binary.LittleEndian, version)
	f.Close()

	if _, err := Open(f.Name()); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
