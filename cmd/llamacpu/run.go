package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ak42/llamacpu/internal/inference"
	"github.com/ak42/llamacpu/internal/logger"
	"github.com/ak42/llamacpu/internal/logits"
	"github.com/ak42/llamacpu/internal/model"
	"github.com/ak42/llamacpu/internal/tokenizer"
)

// runtime bundles everything loaded once at startup and shared across
// every chat turn or one-shot generation.
type runtime struct {
	cfg       model.Config
	transformer *model.Transformer
	tokenizer *tokenizer.Tokenizer
	sampler   *logits.Sampler
	limiter   *rate.Limiter

	stats inference.Stats // most recent run, for the debug server
}

type runtimeOptions struct {
	modelPath     string
	tokenizerPath string
	sampler       string
	temperature   float32
	topP          float32
	seed          uint64
	maxTPS        float64
	log           logger.Logger
}

func loadRuntime(opts runtimeOptions) (*runtime, error) {
	ckpt, err := model.Open(opts.modelPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer ckpt.Close()

	opts.log.Info("loaded checkpoint header",
		"dim", ckpt.Config.Dim, "layers", ckpt.Config.NLayers,
		"heads", ckpt.Config.NHeads, "kv_heads", ckpt.Config.NKVHeads,
		"vocab", ckpt.Config.VocabSize, "seq_length", ckpt.Config.SeqLength)

	weights, err := ckpt.LoadWeights()
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	tr, err := model.New(ckpt.Config)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	if err := tr.LoadWeights(weights); err != nil {
		return nil, fmt.Errorf("attach weights: %w", err)
	}

	tf, err := os.Open(opts.tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("open tokenizer: %w", err)
	}
	defer tf.Close()
	tok, err := tokenizer.Load(tf, int(ckpt.Config.VocabSize))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	var sampler *logits.Sampler
	switch strings.ToLower(opts.sampler) {
	case "argmax":
		sampler = logits.NewArgmaxSampler()
	case "simple":
		sampler = logits.NewSimpleSampler(opts.seed)
	case "nucleus":
		sampler = logits.NewNucleusSampler(opts.temperature, opts.topP, opts.seed)
	default:
		return nil, fmt.Errorf("unknown sampler %q: want argmax, simple, or nucleus", opts.sampler)
	}

	var limiter *rate.Limiter
	if opts.maxTPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.maxTPS), 1)
	}

	return &runtime{
		cfg:         ckpt.Config,
		transformer: tr,
		tokenizer:   tok,
		sampler:     sampler,
		limiter:     limiter,
	}, nil
}

func (rt *runtime) newGenerator() *inference.Generator {
	return inference.NewGenerator(rt.transformer, rt.sampler, rt.tokenizer, int(rt.cfg.VocabSize))
}

// throttledStream wraps a stream callback so generation never exceeds
// maxTPS, blocking the driver thread between tokens rather than the
// worker pool used inside forward passes.
func (rt *runtime) throttledStream(ctx context.Context, emit func(string)) func(string) {
	if rt.limiter == nil {
		return emit
	}
	return func(s string) {
		_ = rt.limiter.Wait(ctx)
		emit(s)
	}
}

func runOnce(ctx context.Context, rt *runtime, prompt, system string, steps int, log logger.Logger) error {
	msgs := []inference.Message{}
	if system != "" {
		msgs = append(msgs, inference.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, inference.Message{Role: "user", Content: prompt})

	ids := inference.BuildChatPrompt(rt.tokenizer, msgs)
	gen := rt.newGenerator()

	_, stats, err := gen.RunWithContext(ctx, ids, steps, rt.throttledStream(ctx, func(s string) {
		fmt.Print(s)
	}))
	fmt.Println()
	rt.stats = stats
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	log.Info("generation complete", "tokens", stats.TokensGenerated, "tps", stats.TPS)
	return nil
}

func runChat(ctx context.Context, rt *runtime, system string, steps int, log logger.Logger) error {
	fmt.Fprintln(os.Stderr, "Interactive chat. Type /exit to quit.")

	var msgs []inference.Message
	if system != "" {
		msgs = append(msgs, inference.Message{Role: "system", Content: system})
	}
	gen := rt.newGenerator()

	for {
		line, err := readChatLine("> ")
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "/exit" {
			return nil
		}
		if line == "" {
			continue
		}
		msgs = append(msgs, inference.Message{Role: "user", Content: line})

		ids := inference.BuildChatPrompt(rt.tokenizer, msgs)
		var reply strings.Builder
		_, stats, err := gen.RunWithContext(ctx, ids, steps, rt.throttledStream(ctx, func(s string) {
			fmt.Print(s)
			reply.WriteString(s)
		}))
		fmt.Println()
		rt.stats = stats
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		log.Debug("turn complete", "tokens", stats.TokensGenerated, "tps", stats.TPS)
		msgs = append(msgs, inference.Message{Role: "assistant", Content: reply.String()})
	}
}
