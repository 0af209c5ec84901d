package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ak42/llamacpu/internal/tensor"
)

// magic identifies an ak42 checkpoint file ("ak42" read little-endian).
const magic uint32 = 0x616b3432

// version is the only checkpoint format version this engine understands.
const version int32 = 1

// headerSize is the number of bytes reserved for the header before weight
// tensors begin.
const headerSize = 256

// ErrBadMagic is returned when a checkpoint's magic number does not match.
var ErrBadMagic = errors.New("model: bad checkpoint magic")

// ErrBadVersion is returned when a checkpoint's version is not supported.
var ErrBadVersion = errors.New("model: unsupported checkpoint version")

// Reader consumes an ak42 checkpoint file: header, Config, then weight
// tensors in a fixed order. LoadWeights does not close the file; the caller
// releases it with Close once loading is done.
type Reader struct {
	f      *os.File
	Config Config
}

// Open validates the checkpoint header and returns a Reader positioned at
// the start of the weight tensor stream (offset headerSize).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open checkpoint: %w", err)
	}

	var gotMagic uint32
	if err := binary.Read(f, binary.LittleEndian, &gotMagic); err != nil {
		f.Close()
		return nil, fmt.Errorf("model: read magic: %w", err)
	}
	if gotMagic != magic {
		f.Close()
		return nil, fmt.Errorf("%w: got 0x%08x", ErrBadMagic, gotMagic)
	}

	var gotVersion int32
	if err := binary.Read(f, binary.LittleEndian, &gotVersion); err != nil {
		f.Close()
		return nil, fmt.Errorf("model: read version: %w", err)
	}
	if gotVersion != version {
		f.Close()
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, gotVersion)
	}

	cfg, err := readConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("model: read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("model: seek past header: %w", err)
	}

	return &Reader{f: f, Config: cfg}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

func readConfig(r io.Reader) (Config, error) {
	var raw struct {
		Dim              int32
		HiddenDim        int32
		NLayers          int32
		NHeads           int32
		NKVHeads         int32
		VocabSize        int32
		SeqLength        int32
		SharedClassifier uint8
		_                [3]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Config{}, err
	}
	return Config{
		Dim:              raw.Dim,
		HiddenDim:        raw.HiddenDim,
		NLayers:          raw.NLayers,
		NHeads:           raw.NHeads,
		NKVHeads:         raw.NKVHeads,
		VocabSize:        raw.VocabSize,
		SeqLength:        raw.SeqLength,
		SharedClassifier: raw.SharedClassifier != 0,
	}, nil
}

// LoadWeights consumes the weight tensor stream in the fixed order:
// token embedding table; per layer {attentionNorm, wq, wk, wv, wo, ffnNorm,
// w1, w2, w3}; final norm; then, unless SharedClassifier, the classifier
// weight. When SharedClassifier, the classifier adopts the embedding
// table's Tensor directly, preserving its quantization state.
func (r *Reader) LoadWeights() (*Weights, error) {
	cfg := r.Config
	dim := int(cfg.Dim)
	hidden := int(cfg.HiddenDim)
	kvDim := cfg.KVDim()

	w := &Weights{
		TokenEmbedding: tensor.New(int(cfg.VocabSize) * dim),
		FinalNorm:      tensor.New(dim),
		Layers:         make([]LayerWeights, cfg.NLayers),
	}

	if err := w.TokenEmbedding.ReadFromStream(r.f); err != nil {
		return nil, fmt.Errorf("model: read token embedding: %w", err)
	}

	for l := range w.Layers {
		lw := &w.Layers[l]
		lw.AttentionNorm = tensor.New(dim)
		lw.WQ = tensor.New(dim * dim)
		lw.WK = tensor.New(dim * kvDim)
		lw.WV = tensor.New(dim * kvDim)
		lw.WO = tensor.New(dim * dim)
		lw.FFNNorm = tensor.New(dim)
		lw.W1 = tensor.New(dim * hidden)
		lw.W2 = tensor.New(hidden * dim)
		lw.W3 = tensor.New(dim * hidden)

		for _, t := range []*tensor.Tensor{
			lw.AttentionNorm, lw.WQ, lw.WK, lw.WV, lw.WO,
			lw.FFNNorm, lw.W1, lw.W2, lw.W3,
		} {
			if err := t.ReadFromStream(r.f); err != nil {
				return nil, fmt.Errorf("model: read layer %d weight: %w", l, err)
			}
		}
	}

	if err := w.FinalNorm.ReadFromStream(r.f); err != nil {
		return nil, fmt.Errorf("model: read final norm: %w", err)
	}

	if cfg.SharedClassifier {
		w.Classifier = w.TokenEmbedding
	} else {
		w.Classifier = tensor.New(dim * int(cfg.VocabSize))
		if err := w.Classifier.ReadFromStream(r.f); err != nil {
			return nil, fmt.Errorf("model: read classifier: %w", err)
		}
	}

	return w, nil
}

// LayerWeights holds the immutable weight tensors for one transformer
// block.
type LayerWeights struct {
	AttentionNorm *tensor.Tensor
	WQ, WK, WV, WO *tensor.Tensor
	FFNNorm       *tensor.Tensor
	W1, W2, W3    *tensor.Tensor
}

// Weights holds every weight tensor of a loaded checkpoint.
type Weights struct {
	TokenEmbedding *tensor.Tensor
	Layers         []LayerWeights
	FinalNorm      *tensor.Tensor
	Classifier     *tensor.Tensor
}
