package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
dataset_dir: /data/iris
epochs: 3
lr: 0.5
optimizer: SGD
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/iris", cfg.DatasetDir)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 0.5, cfg.LR)
	assert.Equal(t, 64, cfg.BatchSize)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sgd", cfg.Optimizer)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "steps: 10\n"))
	assert.Error(t, err)
}

func TestLoadDemoConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "demo.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.SaveModel)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SIAMESE_EPOCHS", "2")
	t.Setenv("SIAMESE_DATASET_DIR", "/env/data")
	t.Setenv("SIAMESE_DRY_RUN", "true")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, 2, cfg.Epochs)
	assert.Equal(t, "/env/data", cfg.DatasetDir)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 64, cfg.BatchSize)
}

func TestApplyEnvRejectsBadValue(t *testing.T) {
	t.Setenv("SIAMESE_BATCH_SIZE", "lots")
	assert.Error(t, Default().ApplyEnv())
}

func TestApplyOverridesOnlyGivenFields(t *testing.T) {
	cfg := Default()
	epochs, seed, dry := 1, int64(0), true
	cfg.ApplyOverrides(Overrides{Epochs: &epochs, Seed: &seed, DryRun: &dry})
	assert.Equal(t, 1, cfg.Epochs)
	assert.Equal(t, int64(0), cfg.Seed)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 1.0, cfg.LR)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"batch size":     func(c *Config) { c.BatchSize = 0 },
		"epochs":         func(c *Config) { c.Epochs = -1 },
		"lr":             func(c *Config) { c.LR = 0 },
		"gamma":          func(c *Config) { c.Gamma = 1.5 },
		"optimizer":      func(c *Config) { c.Optimizer = "adam" },
		"train fraction": func(c *Config) { c.TrainFraction = 1 },
		"image size":     func(c *Config) { c.ImageSize = 4 },
		"dataset":        func(c *Config) { c.DatasetDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.NumWorkers = 0
	cfg.LogInterval = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.NumWorkers)
	assert.Equal(t, 10, cfg.LogInterval)
}
