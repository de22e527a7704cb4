package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "luna", cfg.Dataset)
	assert.Equal(t, "cluster", cfg.ModelName)
	assert.Equal(t, 10, cfg.ClusterCount)
	assert.Equal(t, 3, cfg.SinkhornIters)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := []byte("dataset: brats\nk: 16\nlr: 0.01\nvis: true\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "brats", cfg.Dataset)
	assert.Equal(t, 16, cfg.ClusterCount)
	assert.InDelta(t, 0.01, cfg.LearningRate, 1e-12)
	assert.True(t, cfg.Vis)

	// Untouched knobs keep their defaults.
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 100, cfg.Epochs)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(":\n :"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("k: 1\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "cluster count")
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown model", func(c *Config) { c.ModelName = "unet" }},
		{"unknown loss", func(c *Config) { c.ClusterLoss = "mse" }},
		{"cluster count", func(c *Config) { c.ClusterCount = 1 }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"epochs", func(c *Config) { c.Epochs = -1 }},
		{"learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"sinkhorn iters", func(c *Config) { c.SinkhornIters = 0 }},
		{"sinkhorn epsilon", func(c *Config) { c.SinkhornEpsilon = 0 }},
		{"temperature", func(c *Config) { c.TargetTemperature = -1 }},
		{"ratio low", func(c *Config) { c.PretrainRatio = 0 }},
		{"ratio high", func(c *Config) { c.PretrainRatio = 1.2 }},
		{"guard warmup", func(c *Config) { c.GuardWarmupEpochs = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewRNGIsSeedDeterministic(t *testing.T) {
	a, b := NewRNG(7), NewRNG(7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
	assert.NotEqual(t, NewRNG(7).Int63(), NewRNG(8).Int63())
}
