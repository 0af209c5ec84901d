package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	llamaconfig "github.com/ak42/llamacpu/internal/config"
	"github.com/ak42/llamacpu/internal/logger"
)

func main() {
	var (
		modelPath     string
		tokenizerPath string

		prompt string
		system string
		chat   bool

		steps       int64
		temperature float64
		topP        float64
		sampler     string
		seed        int64
		maxTPS      float64

		logLevel  string
		logFormat string
		debugAddr string

		cpuProfile string
	)

	cfg := llamaconfig.Load()

	cmd := &cli.Command{
		Name:  "llamacpu",
		Usage: "run inference over an ak42 checkpoint on the CPU",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Usage:       "path to the .ak42 checkpoint",
				Required:    true,
				Destination: &modelPath,
			},
			&cli.StringFlag{
				Name:        "tokenizer",
				Usage:       "path to the tokenizer file",
				Required:    true,
				Destination: &tokenizerPath,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Usage:       "prompt text; omit to enter interactive chat mode",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "system",
				Usage:       "optional system prompt for chat mode",
				Destination: &system,
			},
			&cli.BoolFlag{
				Name:        "chat",
				Usage:       "force interactive chat mode even when --prompt is set",
				Destination: &chat,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Usage:       "tokens to generate per turn (-1 = until a stop token)",
				Value:       256,
				Destination: &steps,
			},
			&cli.StringFlag{
				Name:        "sampler",
				Usage:       "argmax, simple, or nucleus",
				Value:       "nucleus",
				Destination: &sampler,
			},
			&cli.Float64Flag{
				Name:        "temperature",
				Usage:       "sampling temperature (nucleus only)",
				Value:       0.8,
				Destination: &temperature,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "nucleus mass (nucleus only)",
				Value:       0.9,
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampler RNG seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.Float64Flag{
				Name:        "max-tps",
				Usage:       "throttle generation to at most this many tokens per second (0 = unbounded)",
				Value:       0,
				Destination: &maxTPS,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text, json, or pretty",
				Value:       "pretty",
				Destination: &logFormat,
			},
			&cli.StringFlag{
				Name:        "debug-addr",
				Usage:       "if set, serve /healthz and /debug/stats on this address",
				Destination: &debugAddr,
			},
			&cli.StringFlag{
				Name:        "cpuprofile",
				Usage:       "write a CPU profile to this file",
				Destination: &cpuProfile,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.Apply(c.IsSet, &modelPath, &tokenizerPath, &temperature, &topP, &maxTPS, &steps, &seed, &sampler, &logLevel, &logFormat, &debugAddr)

			log := buildLogger(logFormat, logLevel)
			ctx = logger.WithContext(ctx, log)

			runID := uuid.New().String()
			log = log.With("run_id", runID)

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("create cpu profile: %v", err), 1)
				}
				defer f.Close()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("start cpu profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}

			rt, err := loadRuntime(runtimeOptions{
				modelPath:     modelPath,
				tokenizerPath: tokenizerPath,
				sampler:       sampler,
				temperature:   float32(temperature),
				topP:          float32(topP),
				seed:          uint64(seed),
				maxTPS:        maxTPS,
				log:           log,
			})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if debugAddr != "" {
				srv := newDebugServer(debugAddr, rt, log)
				go func() {
					if err := srv.start(); err != nil {
						log.Error("debug server exited", "error", err)
					}
				}()
			}

			if prompt == "" || chat {
				return runChat(ctx, rt, system, int(steps), log)
			}
			return runOnce(ctx, rt, prompt, system, int(steps), log)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(format, level string) logger.Logger {
	lvl := logger.ParseLevel(level)
	switch format {
	case "json":
		return logger.JSON(os.Stderr, lvl)
	case "text":
		return logger.New(newTextHandlerAtLevel(lvl))
	default:
		return logger.Pretty(os.Stderr, lvl)
	}
}

func newTextHandlerAtLevel(lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
}
