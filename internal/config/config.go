// Package config loads user defaults from ~/.config/llamacpu/config.yaml
// so the CLI can fall back to a saved preference for any flag the caller
// did not set explicitly on the command line.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk defaults file. Numeric fields are pointers so a
// present-but-zero value can be told apart from "not set."
type Config struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	Steps       *int64   `yaml:"steps"`
	Seed        *int64   `yaml:"seed"`
	MaxTPS      *float64 `yaml:"max_tps"`

	Sampler string `yaml:"sampler"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DebugAddr string `yaml:"debug_addr"`
}

// Path returns the default config file location, or "" if the user's
// config directory cannot be determined.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "llamacpu", "config.yaml")
}

// Load reads the config file at Path(). A missing or unparseable file is
// not an error: it simply yields a zero Config, so the CLI's own flag
// defaults take over.
func Load() Config {
	path := Path()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// IsSetFunc reports whether a CLI flag was explicitly set; it matches
// urfave/cli's *cli.Command.IsSet signature so callers can pass that
// method directly.
type IsSetFunc func(name string) bool

// Apply overlays cfg onto the given flag destinations for any flag the
// caller did not explicitly set, mirroring the precedence the CLI
// documents: explicit flags win, then the config file, then the flags'
// own defaults.
func (cfg Config) Apply(isSet IsSetFunc, modelPath, tokenizerPath *string, temperature, topP, maxTPS *float64, steps, seed *int64, sampler, logLevel, logFormat, debugAddr *string) {
	if cfg.ModelPath != "" && !isSet("model") {
		*modelPath = cfg.ModelPath
	}
	if cfg.TokenizerPath != "" && !isSet("tokenizer") {
		*tokenizerPath = cfg.TokenizerPath
	}
	if cfg.Temperature != nil && !isSet("temperature") && !isSet("temp") {
		*temperature = *cfg.Temperature
	}
	if cfg.TopP != nil && !isSet("top-p") {
		*topP = *cfg.TopP
	}
	if cfg.MaxTPS != nil && !isSet("max-tps") {
		*maxTPS = *cfg.MaxTPS
	}
	if cfg.Steps != nil && !isSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !isSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Sampler != "" && !isSet("sampler") {
		*sampler = cfg.Sampler
	}
	if cfg.LogLevel != "" && !isSet("log-level") {
		*logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !isSet("log-format") {
		*logFormat = cfg.LogFormat
	}
	if cfg.DebugAddr != "" && !isSet("debug-addr") {
		*debugAddr = cfg.DebugAddr
	}
}
