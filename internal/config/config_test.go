package config

import "testing"

func TestApplyOnlyFillsUnsetFlags(t *testing.T) {
	temp := 0.8
	cfg := Config{
		ModelPath:   "/models/model.ak42",
		Temperature: &temp,
	}

	modelPath := "cli-value"
	tokenizerPath := ""
	var temperature, topP, maxTPS float64
	var steps, seed int64
	var sampler, logLevel, logFormat, debugAddr string

	isSet := func(name string) bool { return name == "model" }

	cfg.Apply(isSet, &modelPath, &tokenizerPath, &temperature, &topP, &maxTPS, &steps, &seed, &sampler, &logLevel, &logFormat, &debugAddr)

	if modelPath != "cli-value" {
		t.Fatalf("modelPath = %q, want explicit CLI value preserved", modelPath)
	}
	if temperature != 0.8 {
		t.Fatalf("temperature = %v, want config default 0.8", temperature)
	}
}

func TestLoadMissingFileReturnsZeroConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Load()
	if cfg.ModelPath != "" {
		t.Fatalf("expected zero Config for missing file, got %+v", cfg)
	}
}
