package inference

import (
	"testing"

	"github.com/ak42/llamacpu/internal/logits"
	"github.com/ak42/llamacpu/internal/model"
	"github.com/ak42/llamacpu/internal/tensor"
	"github.com/ak42/llamacpu/internal/tokenizer"
)

func buildTinyModel(t *testing.T) (*model.Transformer, int) {
	t.Helper()
	cfg := model.Config{Dim: 4, HiddenDim: 8, NLayers: 1, NHeads: 2, NKVHeads: 2, VocabSize: 6, SeqLength: 8}
	tr, err := model.New(cfg)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	dim, hidden, kvDim, vocab := int(cfg.Dim), int(cfg.HiddenDim), cfg.KVDim(), int(cfg.VocabSize)
	zeros := func(n int) tensor.FloatTensor { return make(tensor.FloatTensor, n) }
	ident := func(n int) tensor.FloatTensor {
		v := make(tensor.FloatTensor, n*n)
		for i := 0; i < n; i++ {
			v[i*n+i] = 1
		}
		return v
	}
	ones := func(n int) tensor.FloatTensor {
		v := make(tensor.FloatTensor, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}
	mustT := func(f tensor.FloatTensor) *tensor.Tensor {
		tt := tensor.New(len(f))
		if err := tt.AssignFloat(f); err != nil {
			t.Fatalf("AssignFloat: %v", err)
		}
		return tt
	}

	embed := make(tensor.FloatTensor, vocab*dim)
	for tok := 0; tok < vocab; tok++ {
		embed[tok*dim] = float32(tok)
	}

	w := &model.Weights{
		TokenEmbedding: mustT(embed),
		FinalNorm:      mustT(ones(dim)),
		Layers:         make([]model.LayerWeights, cfg.NLayers),
		Classifier:     mustT(zeros(dim * vocab)),
	}
	for i := range w.Layers {
		w.Layers[i] = model.LayerWeights{
			AttentionNorm: mustT(ones(dim)),
			WQ:            mustT(ident(dim)),
			WK:            mustT(zeros(dim * kvDim)),
			WV:            mustT(zeros(dim * kvDim)),
			WO:            mustT(ident(dim)),
			FFNNorm:       mustT(ones(dim)),
			W1:            mustT(zeros(dim * hidden)),
			W2:            mustT(zeros(hidden * dim)),
			W3:            mustT(zeros(dim * hidden)),
		}
	}
	if err := tr.LoadWeights(w); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	return tr, vocab
}

func TestGeneratorRunProducesRequestedSteps(t *testing.T) {
	tr, vocab := buildTinyModel(t)
	sampler := logits.NewArgmaxSampler()

	tokens := []string{"<s>", "</s>", "<unk>", "x", "y", "z"}
	scores := make([]float32, len(tokens))
	v := &tokenizer.Vocab{Tokens: tokens, Scores: scores}
	tok := tokenizer.New(v)

	g := NewGenerator(tr, sampler, tok, vocab)
	g.StopTokens = nil

	out, stats, err := g.Run([]int{3}, 3, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TokensGenerated != 3 {
		t.Fatalf("TokensGenerated = %d, want 3", stats.TokensGenerated)
	}
	if len(out) != 4 {
		t.Fatalf("context length = %d, want 4", len(out))
	}
}

func TestGeneratorStopsOnStopToken(t *testing.T) {
	tr, vocab := buildTinyModel(t)
	sampler := logits.NewArgmaxSampler()

	tokens := []string{"<s>", "</s>", "<unk>", "x", "y", "z"}
	scores := make([]float32, len(tokens))
	v := &tokenizer.Vocab{Tokens: tokens, Scores: scores}
	tok := tokenizer.New(v)

	g := NewGenerator(tr, sampler, tok, vocab)
	g.StopTokens = []int{0}

	_, stats, err := g.Run([]int{3}, -1, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TokensGenerated != 0 {
		t.Fatalf("TokensGenerated = %d, want 0 (argmax should pick token 0 immediately since all logits are zero and ties favor index 0)", stats.TokensGenerated)
	}
}

func TestGeneratorResetsModelOnDivergedContext(t *testing.T) {
	tr, vocab := buildTinyModel(t)
	sampler := logits.NewArgmaxSampler()
	tokens := []string{"<s>", "</s>", "<unk>", "x", "y", "z"}
	v := &tokenizer.Vocab{Tokens: tokens, Scores: make([]float32, len(tokens))}
	tok := tokenizer.New(v)

	g := NewGenerator(tr, sampler, tok, vocab)
	if _, _, err := g.Run([]int{3}, 1, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(g.ContextTokens) != 2 {
		t.Fatalf("context after first Run = %v, want length 2", g.ContextTokens)
	}

	out, _, err := g.Run([]int{4}, 1, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out[0] != 4 {
		t.Fatalf("context after divergent Run = %v, want to start fresh with [4 ...]", out)
	}
}
