package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Noofbiz/fontid/classifier"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("trainfont", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, opts, err := parseConfig(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if opts.printEffectiveConfig {
		t.Errorf("print-effective-config set by default")
	}
	if cfg.Training.Epochs != 10 || cfg.Training.TrainBatchSize != 128 || cfg.Training.EvalBatchSize != 64 {
		t.Errorf("epochs/batch sizes = %d/%d/%d, want 10/128/64",
			cfg.Training.Epochs, cfg.Training.TrainBatchSize, cfg.Training.EvalBatchSize)
	}
	if cfg.Training.LearningRate != 0.01 {
		t.Errorf("learning rate = %g, want 0.01", cfg.Training.LearningRate)
	}
	if cfg.Training.Model != classifier.ModelCNN {
		t.Errorf("model = %q, want %q", cfg.Training.Model, classifier.ModelCNN)
	}
	if cfg.Generator.RotateProb != 0.3 {
		t.Errorf("rotate prob = %g, want 0.3", cfg.Generator.RotateProb)
	}
	if cfg.Data.Catalog != "fonts/font_list.txt" {
		t.Errorf("catalog = %q", cfg.Data.Catalog)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if got := cfg.generatorConfig().RotateProb; got != 0.3 {
		t.Errorf("generator rotate prob = %g, want 0.3", got)
	}
}

func TestParseConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	err := os.WriteFile(path, []byte(`{
  "training": {"epochs": 3, "learning_rate": 0.001, "backend": "go", "model": "dense"},
  "data": {"font_dir": "/srv/fonts"}
}`), 0644)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, opts, err := parseConfig(newFlagSet(), []string{
		"-config", path,
		"-epochs", "5",
		"-rotate-prob", "-1",
		"-print-effective-config",
	})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if !opts.printEffectiveConfig {
		t.Errorf("print-effective-config not set")
	}

	// Flag beats JSON.
	if cfg.Training.Epochs != 5 {
		t.Errorf("epochs = %d, want 5", cfg.Training.Epochs)
	}
	// JSON beats defaults.
	if cfg.Training.LearningRate != 0.001 || cfg.Training.Backend != "go" || cfg.Data.FontDir != "/srv/fonts" {
		t.Errorf("JSON values lost: lr %g, backend %q, font dir %q",
			cfg.Training.LearningRate, cfg.Training.Backend, cfg.Data.FontDir)
	}
	if got := cfg.classifierConfig(4); got.Model != classifier.ModelDense || got.NumClasses != 4 || got.LearningRate != 0.001 {
		t.Errorf("classifierConfig = %+v", got)
	}
	// Untouched defaults survive a partial JSON file.
	if cfg.Training.TrainBatchSize != 128 || cfg.Data.Catalog != "fonts/font_list.txt" {
		t.Errorf("defaults lost: batch %d, catalog %q", cfg.Training.TrainBatchSize, cfg.Data.Catalog)
	}
	// Explicit flags apply even when they look like zero values.
	if cfg.Generator.RotateProb != -1 {
		t.Errorf("rotate prob = %g, want -1", cfg.Generator.RotateProb)
	}

	if !strings.Contains(cfg.String(), `"epochs": 5`) {
		t.Errorf("effective config misses the epochs override:\n%s", cfg)
	}
}

func TestParseConfigExplicitZeroFlag(t *testing.T) {
	cfg, _, err := parseConfig(newFlagSet(), []string{"-epochs", "0"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Training.Epochs != 0 {
		t.Errorf("epochs = %d, want 0", cfg.Training.Epochs)
	}
	if err := cfg.validate(); err == nil {
		t.Errorf("zero epochs validated")
	}
}

func TestZeroRotateProbDisablesRotation(t *testing.T) {
	cfg, _, err := parseConfig(newFlagSet(), []string{"-rotate-prob", "0"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if got := cfg.generatorConfig().RotateProb; got >= 0 {
		t.Fatalf("generator rotate prob = %g, want negative (disabled)", got)
	}

	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(`{"generator": {"rotate_prob": 0}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, err = parseConfig(newFlagSet(), []string{"-config", path})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if got := cfg.generatorConfig().RotateProb; got >= 0 {
		t.Fatalf("generator rotate prob from JSON = %g, want negative (disabled)", got)
	}
}

func TestParseConfigErrors(t *testing.T) {
	if _, _, err := parseConfig(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Errorf("missing config file accepted")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := parseConfig(newFlagSet(), []string{"-config", bad}); err == nil {
		t.Errorf("malformed config accepted")
	}

	if _, _, err := parseConfig(newFlagSet(), []string{"-no-such-flag"}); err == nil {
		t.Errorf("unknown flag accepted")
	}
}
