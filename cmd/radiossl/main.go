// Command radiossl runs self-supervised cluster pretraining on 3D medical
// volume crops.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joangog/radioSSL/checkpoints"
	"github.com/joangog/radioSSL/config"
	"github.com/joangog/radioSSL/data"
	"github.com/joangog/radioSSL/model"
	"github.com/joangog/radioSSL/optimizer"
	"github.com/joangog/radioSSL/training"
	"github.com/joangog/radioSSL/vis"
)

type options struct {
	Config string `long:"config" description:"YAML config file; flags override its values"`

	Data    string `long:"data" description:"directory of preprocessed crop pairs"`
	Dataset string `long:"n" description:"dataset name (luna, lidc, brats, lits)"`
	Output  string `long:"output" description:"output root for run artifacts"`

	Model       string  `long:"model" description:"cluster | cluster_patch"`
	ClusterLoss string  `long:"cluster-loss" description:"ce | swav"`
	K           int     `long:"k" description:"number of clusters"`
	BatchSize   int     `long:"b" description:"batch size"`
	Epochs      int     `long:"epochs" description:"training epochs"`
	LR          float64 `long:"lr" description:"base learning rate"`
	Ratio       float64 `long:"ratio" description:"fraction of the train list to use"`
	Seed        int64   `long:"seed" description:"random seed"`
	Vis         bool    `long:"vis" description:"render the prediction grid"`

	Resume string `long:"resume" description:"checkpoint to resume from"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.Fatal(err)
	}
}

func run(log *logrus.Logger) error {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	rng := config.NewRNG(cfg.Seed)

	dataset, err := data.NewCropDataset(cfg.DataDir, nil)
	if err != nil {
		return errors.Wrap(err, "opening dataset")
	}
	loader, err := data.NewDataLoader(dataset, cfg.BatchSize, true, rng)
	if err != nil {
		return errors.Wrap(err, "building data loader")
	}
	log.WithFields(logrus.Fields{
		"dataset": cfg.Dataset,
		"samples": dataset.Len(),
		"batches": loader.NumBatches(),
	}).Info("dataset ready")

	net, err := buildModel(cfg, rng)
	if err != nil {
		return errors.Wrap(err, "building model")
	}

	opt, err := optimizer.NewSGD(net.Parameters(), optimizer.SGDConfig{
		LearningRate: cfg.LearningRate,
		Momentum:     cfg.Momentum,
		WeightDecay:  cfg.WeightDecay,
	})
	if err != nil {
		return errors.Wrap(err, "building optimizer")
	}

	task, err := buildTask(cfg, net, opt, log)
	if err != nil {
		return errors.Wrap(err, "building task")
	}

	sched, err := training.NewCosineAnnealingLR(cfg.LearningRate, cfg.Epochs)
	if err != nil {
		return errors.Wrap(err, "building scheduler")
	}

	startEpoch := 0
	if opts.Resume != "" {
		ckpt, err := checkpoints.Load(opts.Resume)
		if err != nil {
			return err
		}
		if err := checkpoints.RestoreState(task.Parameters(), ckpt.StateDict); err != nil {
			return errors.Wrap(err, "restoring model state")
		}
		if err := opt.LoadState(ckpt.Optimizer); err != nil {
			return errors.Wrap(err, "restoring optimizer state")
		}
		startEpoch = ckpt.Epoch + 1
		log.WithFields(logrus.Fields{"checkpoint": opts.Resume, "epoch": startEpoch}).Info("resuming run")
	}

	runDir := runDirectory(cfg)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating run directory %s", runDir)
	}
	log.WithField("dir", runDir).Info("run directory")

	palette := vis.NewPalette(cfg.ClusterCount)
	trainer, err := training.NewPretrainer(cfg, task, opt, sched, loader, runDir, palette, log)
	if err != nil {
		return errors.Wrap(err, "building trainer")
	}
	return trainer.Run(startEpoch)
}

func buildConfig(opts options) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return cfg, err
		}
	}

	if opts.Data != "" {
		cfg.DataDir = opts.Data
	}
	if opts.Dataset != "" {
		cfg.Dataset = opts.Dataset
	}
	if opts.Output != "" {
		cfg.OutputDir = opts.Output
	}
	if opts.Model != "" {
		cfg.ModelName = opts.Model
	}
	if opts.ClusterLoss != "" {
		cfg.ClusterLoss = opts.ClusterLoss
	}
	if opts.K > 0 {
		cfg.ClusterCount = opts.K
	}
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.Epochs > 0 {
		cfg.Epochs = opts.Epochs
	}
	if opts.LR > 0 {
		cfg.LearningRate = opts.LR
	}
	if opts.Ratio > 0 {
		cfg.PretrainRatio = opts.Ratio
	}
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}
	if opts.Vis {
		cfg.Vis = true
	}

	if cfg.DataDir == "" {
		return cfg, errors.New("a data directory is required (--data or data_dir in the config)")
	}
	return cfg, cfg.Validate()
}

func buildModel(cfg config.Config, rng *rand.Rand) (model.Model, error) {
	switch cfg.ModelName {
	case "cluster":
		return model.NewVoxelProjector(cfg.InputChannels, cfg.ClusterCount, rng)
	case "cluster_patch":
		return model.NewPatchProjector(cfg.InputChannels, cfg.EmbDim, cfg.ClusterCount, cfg.PatchSize, rng)
	}
	return nil, errors.Errorf("unknown model %q", cfg.ModelName)
}

func buildTask(cfg config.Config, net model.Model, opt optimizer.Optimizer, log *logrus.Logger) (training.EpochRunner, error) {
	switch m := net.(type) {
	case model.PatchModel:
		return training.NewClusterPatchTask(cfg, m, opt, log)
	case model.VoxelModel:
		if cfg.ClusterLoss == "ce" {
			return training.NewClusterCETask(cfg, m, opt, log)
		}
		return training.NewClusterSwAVTask(cfg, m, opt, log)
	}
	return nil, errors.Errorf("model %q fits no training task", cfg.ModelName)
}

func runDirectory(cfg config.Config) string {
	runName := fmt.Sprintf("%s_3d_k%d_%s_pretask_b%d_e%d_t%s",
		cfg.ModelName, cfg.ClusterCount, cfg.ClusterLoss,
		cfg.BatchSize, cfg.Epochs, time.Now().Format("20060102_150405"))
	return filepath.Join(cfg.OutputDir, cfg.ModelName+"_"+cfg.Dataset+"_pretrain", runName)
}
