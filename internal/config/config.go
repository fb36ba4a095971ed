package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "SIAMESE_"

// Config captures the runtime knobs for a training run.
type Config struct {
	DatasetDir    string  `yaml:"dataset_dir" env:"DATASET_DIR"`
	BatchSize     int     `yaml:"batch_size" env:"BATCH_SIZE"`
	TestBatchSize int     `yaml:"test_batch_size" env:"TEST_BATCH_SIZE"`
	Epochs        int     `yaml:"epochs" env:"EPOCHS"`
	LR            float64 `yaml:"lr" env:"LR"`
	Gamma         float64 `yaml:"gamma" env:"GAMMA"`
	Optimizer     string  `yaml:"optimizer" env:"OPTIMIZER"`
	NoCUDA        bool    `yaml:"no_cuda" env:"NO_CUDA"`
	NoMPS         bool    `yaml:"no_mps" env:"NO_MPS"`
	DryRun        bool    `yaml:"dry_run" env:"DRY_RUN"`
	Seed          int64   `yaml:"seed" env:"SEED"`
	LogInterval   int     `yaml:"log_interval" env:"LOG_INTERVAL"`
	SaveModel     bool    `yaml:"save_model" env:"SAVE_MODEL"`
	ModelPath     string  `yaml:"model_path" env:"MODEL_PATH"`
	Resume        string  `yaml:"resume" env:"RESUME"`
	NumWorkers    int     `yaml:"num_workers" env:"NUM_WORKERS"`
	ImageSize     int     `yaml:"image_size" env:"IMAGE_SIZE"`
	TrainFraction float64 `yaml:"train_fraction" env:"TRAIN_FRACTION"`
	Width         int     `yaml:"width" env:"WIDTH"`
	Shuffle       bool    `yaml:"shuffle" env:"SHUFFLE"`
	RunDB         string  `yaml:"run_db" env:"RUN_DB"`
	PlotPath      string  `yaml:"plot_path" env:"PLOT_PATH"`
	LogLevel      string  `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat     string  `yaml:"log_format" env:"LOG_FORMAT"`
}

// Overrides captures CLI supplied values. A nil field was not given.
type Overrides struct {
	DatasetDir    *string
	BatchSize     *int
	TestBatchSize *int
	Epochs        *int
	LR            *float64
	Gamma         *float64
	Optimizer     *string
	NoCUDA        *bool
	NoMPS         *bool
	DryRun        *bool
	Seed          *int64
	LogInterval   *int
	SaveModel     *bool
	ModelPath     *string
	Resume        *string
	NumWorkers    *int
	ImageSize     *int
	TrainFraction *float64
	Width         *int
	RunDB         *string
	PlotPath      *string
	LogLevel      *string
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		DatasetDir:    "MMU-Iris-Database",
		BatchSize:     64,
		TestBatchSize: 1000,
		Epochs:        14,
		LR:            1.0,
		Gamma:         0.7,
		Optimizer:     "adadelta",
		Seed:          42,
		LogInterval:   10,
		ModelPath:     "siamese_network.ckpt",
		NumWorkers:    4,
		ImageSize:     128,
		TrainFraction: 0.6,
		Width:         64,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load reads a Config from YAML on top of Default. An empty path yields the
// defaults. The result is not validated; callers layer env and CLI first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SIAMESE_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, "parse env")
	}
	return nil
}

// ApplyOverrides updates cfg using every override that was given.
func (c *Config) ApplyOverrides(o Overrides) {
	set(&c.DatasetDir, o.DatasetDir)
	set(&c.BatchSize, o.BatchSize)
	set(&c.TestBatchSize, o.TestBatchSize)
	set(&c.Epochs, o.Epochs)
	set(&c.LR, o.LR)
	set(&c.Gamma, o.Gamma)
	set(&c.Optimizer, o.Optimizer)
	set(&c.NoCUDA, o.NoCUDA)
	set(&c.NoMPS, o.NoMPS)
	set(&c.DryRun, o.DryRun)
	set(&c.Seed, o.Seed)
	set(&c.LogInterval, o.LogInterval)
	set(&c.SaveModel, o.SaveModel)
	set(&c.ModelPath, o.ModelPath)
	set(&c.Resume, o.Resume)
	set(&c.NumWorkers, o.NumWorkers)
	set(&c.ImageSize, o.ImageSize)
	set(&c.TrainFraction, o.TrainFraction)
	set(&c.Width, o.Width)
	set(&c.RunDB, o.RunDB)
	set(&c.PlotPath, o.PlotPath)
	set(&c.LogLevel, o.LogLevel)
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DatasetDir == "" {
		return errors.New("dataset_dir must be set")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.TestBatchSize <= 0 {
		return errors.Errorf("test_batch_size must be > 0 (got %d)", c.TestBatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LR <= 0 {
		return errors.Errorf("lr must be > 0 (got %g)", c.LR)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return errors.Errorf("gamma must be in (0, 1] (got %g)", c.Gamma)
	}
	switch strings.ToLower(c.Optimizer) {
	case "", "adadelta":
		c.Optimizer = "adadelta"
	case "sgd":
		c.Optimizer = "sgd"
	default:
		return errors.Errorf("optimizer must be adadelta or sgd (got %q)", c.Optimizer)
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return errors.Errorf("train_fraction must be in (0, 1) (got %g)", c.TrainFraction)
	}
	if c.ImageSize < 8 {
		return errors.Errorf("image_size must be >= 8 (got %d)", c.ImageSize)
	}
	if c.Width <= 0 {
		return errors.Errorf("width must be > 0 (got %d)", c.Width)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogInterval <= 0 {
		c.LogInterval = 10
	}
	if c.SaveModel && c.ModelPath == "" {
		c.ModelPath = "siamese_network.ckpt"
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
