// Package inference drives the transformer and sampler through the
// generate/chat loop: feeding tokens forward one at a time, sampling the
// next token, and streaming decoded text back to the caller.
package inference

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ak42/llamacpu/internal/logits"
	"github.com/ak42/llamacpu/internal/model"
	"github.com/ak42/llamacpu/internal/tensor"
	"github.com/ak42/llamacpu/internal/tokenizer"
)

// Stats summarizes one generation run.
type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// DefaultStopTokens are the EOS ids that end generation unprompted:
// end-of-text and end-of-turn.
var DefaultStopTokens = []int{128001, 128009}

// Generator holds everything needed to run the model forward and sample
// from it across a chat or single-shot generation session. ContextTokens
// is the prefix of tokens already fed through the model; calling Run with
// a longer prefix replays only the new suffix, and calling it with a
// prefix that diverges from ContextTokens resets the model's KV cache and
// replays the whole new prefix from the start.
type Generator struct {
	Model     *model.Transformer
	Sampler   *logits.Sampler
	Tokenizer *tokenizer.Tokenizer

	ContextTokens []int
	StopTokens    []int

	logitsBuf tensor.FloatTensor
}

// NewGenerator builds a Generator over an already-loaded model.
func NewGenerator(m *model.Transformer, sampler *logits.Sampler, tok *tokenizer.Tokenizer, vocabSize int) *Generator {
	return &Generator{
		Model:      m,
		Sampler:    sampler,
		Tokenizer:  tok,
		StopTokens: DefaultStopTokens,
		logitsBuf:  make(tensor.FloatTensor, vocabSize),
	}
}

// Run generates up to steps additional tokens beyond allTokens, streaming
// each newly sampled token's decoded text to stream (if non-nil). A
// negative steps means "run until a stop token appears."
func (g *Generator) Run(allTokens []int, steps int, stream func(string)) ([]int, Stats, error) {
	return g.RunWithContext(context.Background(), allTokens, steps, stream)
}

// RunWithContext is Run with cancellation support via ctx.
func (g *Generator) RunWithContext(ctx context.Context, allTokens []int, steps int, stream func(string)) ([]int, Stats, error) {
	var stats Stats
	start := time.Now()

	mismatch := len(allTokens) < len(g.ContextTokens)
	if !mismatch {
		for i, id := range g.ContextTokens {
			if allTokens[i] != id {
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		g.Model.Reset()
		g.ContextTokens = g.ContextTokens[:0]
	}

	newTokens := allTokens[len(g.ContextTokens):]
	for _, id := range newTokens {
		if err := g.Model.Forward(id, g.logitsBuf); err != nil {
			return g.ContextTokens, stats, fmt.Errorf("inference: prefill forward: %w", err)
		}
	}
	g.ContextTokens = append(g.ContextTokens, newTokens...)

	limit := steps
	if limit < 0 {
		limit = 1 << 30
	}

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return g.ContextTokens, stats, err
		}

		next, err := g.Sampler.Sample(g.logitsBuf)
		if err != nil {
			return g.ContextTokens, stats, fmt.Errorf("inference: sample: %w", err)
		}

		if slices.Contains(g.StopTokens, next) {
			break
		}

		g.ContextTokens = append(g.ContextTokens, next)

		if stream != nil {
			if s, ok := g.Tokenizer.Decode(next); ok {
				stream(s)
			}
		}

		if err := g.Model.Forward(next, g.logitsBuf); err != nil {
			return g.ContextTokens, stats, fmt.Errorf("inference: forward step %d: %w", i, err)
		}
		stats.TokensGenerated++
	}

	stats.Duration = time.Since(start)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.TPS = float64(stats.TokensGenerated) / secs
	}
	return g.ContextTokens, stats, nil
}
