package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Noofbiz/fontid/classifier"
	"github.com/Noofbiz/fontid/fontgen"
)

// defaultConfigJSON holds the built-in defaults. A -config file is decoded on
// top of it and explicitly set flags are applied last.
const defaultConfigJSON = `{
  "data": {
    "vocabulary": "data/texts.txt",
    "font_dir": "fonts",
    "catalog": "fonts/font_list.txt",
    "sample_dir": ""
  },
  "generator": {
    "seed": 0,
    "rotate_prob": 0.3
  },
  "training": {
    "epochs": 10,
    "train_batch_size": 128,
    "eval_batch_size": 64,
    "learning_rate": 0.01,
    "num_classes": 0,
    "model": "cnn",
    "workers": 0,
    "prefetch": 0,
    "backend": "",
    "checkpoint_dir": "checkpoints",
    "out_dir": "output"
  }
}
`

// Config is the effective configuration of a training run.
type Config struct {
	Data struct {
		Vocabulary string `json:"vocabulary"`
		FontDir    string `json:"font_dir"`
		Catalog    string `json:"catalog"`
		SampleDir  string `json:"sample_dir"`
	} `json:"data"`
	Generator struct {
		Seed       int64   `json:"seed"`
		RotateProb float64 `json:"rotate_prob"`
	} `json:"generator"`
	Training struct {
		Epochs         int     `json:"epochs"`
		TrainBatchSize int     `json:"train_batch_size"`
		EvalBatchSize  int     `json:"eval_batch_size"`
		LearningRate   float64 `json:"learning_rate"`
		NumClasses     int     `json:"num_classes"`
		Model          string  `json:"model"`
		Workers        int     `json:"workers"`
		Prefetch       int     `json:"prefetch"`
		Backend        string  `json:"backend"`
		CheckpointDir  string  `json:"checkpoint_dir"`
		OutDir         string  `json:"out_dir"`
	} `json:"training"`
}

// options are the parsed command line values besides the Config overrides.
type options struct {
	configPath           string
	printEffectiveConfig bool
}

// parseConfig parses args with fs and merges defaults, the optional JSON file
// and the flags the user actually set, in that order.
func parseConfig(fs *flag.FlagSet, args []string) (*Config, options, error) {
	var opts options
	var flagCfg Config
	fs.StringVar(&opts.configPath, "config", "", "path to a JSON config file (optional); its values override the built-in defaults")
	fs.BoolVar(&opts.printEffectiveConfig, "print-effective-config", false, "print the effective (defaults+JSON+CLI merged) configuration and exit")

	fs.StringVar(&flagCfg.Data.Vocabulary, "vocab", "", "vocabulary file, one word or phrase per line")
	fs.StringVar(&flagCfg.Data.FontDir, "font-dir", "", "directory the catalog's font paths are relative to")
	fs.StringVar(&flagCfg.Data.Catalog, "catalog", "", "font catalog file with label|relative_font_path lines")
	fs.StringVar(&flagCfg.Data.SampleDir, "sample-dir", "", "if set, save every rendered tight canvas as <idx>.png here")
	fs.Int64Var(&flagCfg.Generator.Seed, "seed", 0, "random seed for text, font and rotation choices (0 = time based)")
	fs.Float64Var(&flagCfg.Generator.RotateProb, "rotate-prob", 0, "probability of rotating a sample (0 or negative disables; default 0.3)")
	fs.IntVar(&flagCfg.Training.Epochs, "epochs", 0, "number of training epochs")
	fs.IntVar(&flagCfg.Training.TrainBatchSize, "batch-size", 0, "training batch size")
	fs.IntVar(&flagCfg.Training.EvalBatchSize, "eval-batch-size", 0, "evaluation batch size")
	fs.Float64Var(&flagCfg.Training.LearningRate, "learning-rate", 0, "Adam learning rate")
	fs.IntVar(&flagCfg.Training.NumClasses, "num-classes", 0, "number of output classes (0 = derived from the catalog)")
	fs.StringVar(&flagCfg.Training.Model, "model", "", `model architecture: "cnn" (needs the xla backend) or "dense"`)
	fs.IntVar(&flagCfg.Training.Workers, "workers", 0, "number of rendering workers (0 = physical cores)")
	fs.IntVar(&flagCfg.Training.Prefetch, "prefetch", 0, "rendered batches kept ahead of the model (0 = twice the workers)")
	fs.StringVar(&flagCfg.Training.Backend, "backend", "", `gomlx backend config, e.g. "go" (empty = gomlx default)`)
	fs.StringVar(&flagCfg.Training.CheckpointDir, "checkpoint-dir", "", "directory receiving one checkpoint per epoch; must be empty")
	fs.StringVar(&flagCfg.Training.OutDir, "out", "", "output directory for history.json and loss.png")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}

	cfg := &Config{}
	if err := json.Unmarshal([]byte(defaultConfigJSON), cfg); err != nil {
		return nil, opts, fmt.Errorf("failed to parse built-in defaults: %w", err)
	}
	if strings.TrimSpace(opts.configPath) != "" {
		data, err := os.ReadFile(opts.configPath)
		if err != nil {
			return nil, opts, fmt.Errorf("failed to read config %s: %w", opts.configPath, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, opts, fmt.Errorf("failed to parse config %s: %w", opts.configPath, err)
		}
	}

	overrides := map[string]func(){
		"vocab":           func() { cfg.Data.Vocabulary = flagCfg.Data.Vocabulary },
		"font-dir":        func() { cfg.Data.FontDir = flagCfg.Data.FontDir },
		"catalog":         func() { cfg.Data.Catalog = flagCfg.Data.Catalog },
		"sample-dir":      func() { cfg.Data.SampleDir = flagCfg.Data.SampleDir },
		"seed":            func() { cfg.Generator.Seed = flagCfg.Generator.Seed },
		"rotate-prob":     func() { cfg.Generator.RotateProb = flagCfg.Generator.RotateProb },
		"epochs":          func() { cfg.Training.Epochs = flagCfg.Training.Epochs },
		"batch-size":      func() { cfg.Training.TrainBatchSize = flagCfg.Training.TrainBatchSize },
		"eval-batch-size": func() { cfg.Training.EvalBatchSize = flagCfg.Training.EvalBatchSize },
		"learning-rate":   func() { cfg.Training.LearningRate = flagCfg.Training.LearningRate },
		"num-classes":     func() { cfg.Training.NumClasses = flagCfg.Training.NumClasses },
		"model":           func() { cfg.Training.Model = flagCfg.Training.Model },
		"workers":         func() { cfg.Training.Workers = flagCfg.Training.Workers },
		"prefetch":        func() { cfg.Training.Prefetch = flagCfg.Training.Prefetch },
		"backend":         func() { cfg.Training.Backend = flagCfg.Training.Backend },
		"checkpoint-dir":  func() { cfg.Training.CheckpointDir = flagCfg.Training.CheckpointDir },
		"out":             func() { cfg.Training.OutDir = flagCfg.Training.OutDir },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})
	return cfg, opts, nil
}

// validate checks what the packages downstream do not.
func (c *Config) validate() error {
	switch {
	case c.Data.Vocabulary == "":
		return fmt.Errorf("vocabulary path is required")
	case c.Data.Catalog == "":
		return fmt.Errorf("catalog path is required")
	case c.Training.CheckpointDir == "":
		return fmt.Errorf("checkpoint dir is required")
	case c.Training.Epochs <= 0:
		return fmt.Errorf("epochs must be positive, got %d", c.Training.Epochs)
	case c.Training.TrainBatchSize <= 0 || c.Training.EvalBatchSize <= 0:
		return fmt.Errorf("batch sizes must be positive, got %d and %d", c.Training.TrainBatchSize, c.Training.EvalBatchSize)
	}
	return nil
}

// generatorConfig maps the generator section onto fontgen.Config. The
// built-in defaults already carry the rotation probability, so a zero here
// was set on purpose and turns rotation off.
func (c *Config) generatorConfig() fontgen.Config {
	rotateProb := c.Generator.RotateProb
	if rotateProb == 0 {
		rotateProb = -1
	}
	return fontgen.Config{
		Seed:       c.Generator.Seed,
		RotateProb: rotateProb,
		SaveDir:    c.Data.SampleDir,
	}
}

func (c *Config) classifierConfig(numClasses int) classifier.Config {
	return classifier.Config{
		NumClasses:   numClasses,
		Model:        c.Training.Model,
		LearningRate: c.Training.LearningRate,
	}
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(data)
}
