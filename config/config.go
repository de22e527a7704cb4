// Package config holds the pretraining run configuration.
package config

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config collects every knob of a pretraining run. Zero values are filled
// by DefaultConfig; YAML files only need to state what they change.
type Config struct {
	// Data
	Dataset       string  `yaml:"dataset"`        // luna | lidc | brats | lits
	DataDir       string  `yaml:"data_dir"`       // dataset root
	OutputDir     string  `yaml:"output_dir"`     // run artifacts (checkpoints, grids, logs)
	PretrainRatio float64 `yaml:"pretrain_ratio"` // fraction of the train list used for pretraining
	InputChannels int     `yaml:"input_channels"`

	// Model
	ModelName    string `yaml:"model"`        // cluster | cluster_patch
	ClusterCount int    `yaml:"k"`            // number of clusters / prototypes
	EmbDim       int    `yaml:"emb_dim"`      // patch embedding width
	PatchSize    int    `yaml:"patch_size"`   // cubic patch edge length
	ClusterLoss  string `yaml:"cluster_loss"` // ce | swav

	// Optimization
	BatchSize    int     `yaml:"b"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"lr"`
	Momentum     float64 `yaml:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay"`

	// Online clustering
	SinkhornIters     int     `yaml:"sinkhorn_iters"`
	SinkhornEpsilon   float64 `yaml:"sinkhorn_epsilon"`
	TargetTemperature float64 `yaml:"target_temperature"`

	// Instability guard: steps whose loss exceeds the threshold after the
	// warm-up epochs are skipped instead of applied.
	LossSkipThreshold float64 `yaml:"loss_skip_threshold"`
	GuardWarmupEpochs int     `yaml:"guard_warmup_epochs"`

	// Run control
	CheckpointEvery int   `yaml:"checkpoint_every"`
	Vis             bool  `yaml:"vis"`
	Seed            int64 `yaml:"seed"`
}

// DefaultConfig returns the standard pretraining settings.
func DefaultConfig() Config {
	return Config{
		Dataset:           "luna",
		OutputDir:         "runs",
		PretrainRatio:     1.0,
		InputChannels:     1,
		ModelName:         "cluster",
		ClusterCount:      10,
		EmbDim:            128,
		PatchSize:         8,
		ClusterLoss:       "swav",
		BatchSize:         8,
		Epochs:            100,
		LearningRate:      1e-3,
		Momentum:          0.9,
		WeightDecay:       1e-4,
		SinkhornIters:     3,
		SinkhornEpsilon:   0.05,
		TargetTemperature: 1.0,
		LossSkipThreshold: 1000,
		GuardWarmupEpochs: 10,
		CheckpointEvery:   10,
		Seed:              1,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.ModelName {
	case "cluster", "cluster_patch":
	default:
		return fmt.Errorf("unknown model %q", c.ModelName)
	}
	switch c.ClusterLoss {
	case "ce", "swav":
	default:
		return fmt.Errorf("unknown cluster loss %q", c.ClusterLoss)
	}
	if c.ClusterCount <= 1 {
		return fmt.Errorf("cluster count must be at least 2, got %d", c.ClusterCount)
	}
	if c.BatchSize <= 0 || c.Epochs <= 0 {
		return fmt.Errorf("batch size and epochs must be positive")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.SinkhornIters <= 0 {
		return fmt.Errorf("sinkhorn iterations must be positive, got %d", c.SinkhornIters)
	}
	if c.SinkhornEpsilon <= 0 {
		return fmt.Errorf("sinkhorn epsilon must be positive, got %g", c.SinkhornEpsilon)
	}
	if c.TargetTemperature <= 0 {
		return fmt.Errorf("target temperature must be positive, got %g", c.TargetTemperature)
	}
	if c.PretrainRatio <= 0 || c.PretrainRatio > 1 {
		return fmt.Errorf("pretrain ratio must be in (0, 1], got %g", c.PretrainRatio)
	}
	if c.GuardWarmupEpochs < 0 {
		return fmt.Errorf("guard warm-up epochs must be non-negative, got %d", c.GuardWarmupEpochs)
	}
	return nil
}

// NewRNG returns the run's random source. All randomness (weight init,
// shuffling) flows from this explicitly seeded generator.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
