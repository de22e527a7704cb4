package training

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joangog/radioSSL/checkpoints"
	"github.com/joangog/radioSSL/config"
	"github.com/joangog/radioSSL/data"
	"github.com/joangog/radioSSL/optimizer"
	"github.com/joangog/radioSSL/tensor"
	"github.com/joangog/radioSSL/vis"
)

// gridImages caps how many batch elements appear per visualization row.
const gridImages = 8

// Pretrainer drives a full pretraining run: per-epoch task execution with
// cosine learning-rate annealing, periodic checkpoints, the scalar run log,
// and the prediction grid.
type Pretrainer struct {
	cfg     config.Config
	task    EpochRunner
	opt     optimizer.Optimizer
	sched   LRScheduler
	loader  *data.DataLoader
	log     logrus.FieldLogger
	runDir  string
	palette vis.Palette
}

// NewPretrainer wires a run together. The palette is passed in explicitly
// so rendering stays deterministic across resumes.
func NewPretrainer(cfg config.Config, task EpochRunner, opt optimizer.Optimizer, sched LRScheduler, loader *data.DataLoader, runDir string, palette vis.Palette, log logrus.FieldLogger) (*Pretrainer, error) {
	if task == nil || opt == nil || sched == nil || loader == nil {
		return nil, errors.New("task, optimizer, scheduler and loader are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pretrainer{
		cfg:     cfg,
		task:    task,
		opt:     opt,
		sched:   sched,
		loader:  loader,
		log:     log,
		runDir:  runDir,
		palette: palette,
	}, nil
}

// Run executes cfg.Epochs epochs starting from startEpoch (non-zero when
// resuming from a checkpoint).
func (p *Pretrainer) Run(startEpoch int) error {
	runLog, err := vis.NewRunLog(filepath.Join(p.runDir, "scalars.csv"), []string{"cluster_loss", "total_loss", "lr"})
	if err != nil {
		return errors.Wrap(err, "opening run log")
	}
	defer runLog.Close()

	var grid *vis.GridWriter
	var visBatch *data.Batch
	if p.cfg.Vis {
		grid = vis.NewGridWriter(96, 96)
		visBatch, err = p.firstBatch()
		if err != nil {
			return errors.Wrap(err, "fetching visualization batch")
		}
		if err := p.renderInputRow(grid, visBatch); err != nil {
			return errors.Wrap(err, "rendering input row")
		}
	}
	visEvery := p.cfg.Epochs / 8
	if visEvery < 1 {
		visEvery = 1
	}

	for epoch := startEpoch; epoch < p.cfg.Epochs; epoch++ {
		lr := p.sched.LearningRate(epoch)
		p.opt.SetLearningRate(lr)

		p.loader.Reset()
		stats, err := p.task.RunEpoch(epoch, p.loader)
		if err != nil {
			return errors.Wrapf(err, "epoch %d", epoch)
		}

		p.log.WithFields(logrus.Fields{
			"epoch":        epoch,
			"cluster_loss": stats.ClusterLoss,
			"total_loss":   stats.TotalLoss,
			"skipped":      stats.Skipped,
			"lr":           lr,
		}).Info("epoch complete")

		if err := runLog.Append(epoch, []float64{stats.ClusterLoss, stats.TotalLoss, lr}); err != nil {
			return errors.Wrap(err, "appending run log")
		}

		if grid != nil && epoch%visEvery == 0 {
			row, err := p.task.RenderPredictions(visBatch, p.palette, gridImages)
			if err != nil {
				return errors.Wrapf(err, "rendering predictions at epoch %d", epoch)
			}
			grid.AddRow(row)
		}

		if p.shouldCheckpoint(epoch) {
			if err := p.saveCheckpoint(epoch); err != nil {
				return err
			}
		}
	}

	if grid != nil {
		if err := grid.WritePNG(filepath.Join(p.runDir, "pred_grid.png")); err != nil {
			return errors.Wrap(err, "writing prediction grid")
		}
	}
	return nil
}

func (p *Pretrainer) shouldCheckpoint(epoch int) bool {
	if epoch == p.cfg.Epochs-1 {
		return true
	}
	return p.cfg.CheckpointEvery > 0 && (epoch+1)%p.cfg.CheckpointEvery == 0
}

func (p *Pretrainer) saveCheckpoint(epoch int) error {
	stateDict, err := checkpoints.CaptureState(p.task.Parameters())
	if err != nil {
		return errors.Wrapf(err, "capturing model state at epoch %d", epoch)
	}
	ckpt := &checkpoints.Checkpoint{
		Opt:       p.cfg,
		StateDict: stateDict,
		Optimizer: p.opt.GetState(),
		Epoch:     epoch,
	}
	path := filepath.Join(p.runDir, fmt.Sprintf("epoch_%d.json", epoch))
	if err := checkpoints.Save(path, ckpt); err != nil {
		return errors.Wrapf(err, "saving checkpoint at epoch %d", epoch)
	}
	p.log.WithFields(logrus.Fields{"epoch": epoch, "path": path}).Info("checkpoint saved")
	return nil
}

// firstBatch fetches the first batch of the (unshuffled position of the)
// loader for visualization, then rewinds.
func (p *Pretrainer) firstBatch() (*data.Batch, error) {
	p.loader.Reset()
	batch, err := p.loader.Next()
	if err != nil {
		return nil, err
	}
	p.loader.Reset()
	return batch, nil
}

// renderInputRow draws the raw mid-slices of the visualization batch as the
// grid's first row.
func (p *Pretrainer) renderInputRow(grid *vis.GridWriter, batch *data.Batch) error {
	n := batch.Size()
	if n > gridImages {
		n = gridImages
	}
	row := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		elem, err := sliceBatchElem(batch.Crop1, i)
		if err != nil {
			return err
		}
		// Keep modality 0 only.
		vol, err := tensor.SelectAutograd(elem, 0, 0)
		if err != nil {
			return err
		}
		img, err := vis.GraySlice(vol.Detach())
		if err != nil {
			return err
		}
		row = append(row, img)
	}
	grid.AddRow(row)
	return nil
}
