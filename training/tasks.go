package training

import (
	"image"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joangog/radioSSL/cluster"
	"github.com/joangog/radioSSL/config"
	"github.com/joangog/radioSSL/data"
	"github.com/joangog/radioSSL/model"
	"github.com/joangog/radioSSL/optimizer"
	"github.com/joangog/radioSSL/tensor"
	"github.com/joangog/radioSSL/vis"
)

// EpochStats summarizes one training epoch.
type EpochStats struct {
	ClusterLoss float64 // epoch average of the cluster loss
	TotalLoss   float64 // epoch average of the combined loss
	Skipped     int     // optimizer steps skipped by the instability guard
}

// EpochRunner is one pretraining task variant. Implementations run a full
// epoch over the loader and expose their parameters for checkpointing.
type EpochRunner interface {
	RunEpoch(epoch int, loader *data.DataLoader) (*EpochStats, error)

	Parameters() []model.Parameter

	// RenderPredictions draws hard cluster assignments for up to maxImages
	// elements of the batch, for the validation grid.
	RenderPredictions(batch *data.Batch, palette vis.Palette, maxImages int) ([]image.Image, error)
}

// stepState carries the per-epoch bookkeeping shared by every task.
type stepState struct {
	batchTime AverageMeter
	dataTime  AverageMeter
	loss      AverageMeter
	total     AverageMeter
	skipped   int
	last      time.Time
}

// guardTripped applies the instability guard: past the warm-up epochs, a
// step whose loss blows over the threshold is dropped instead of applied.
// A non-finite loss is dropped unconditionally; NaN compares false against
// any threshold and its gradients would corrupt every parameter.
func guardTripped(cfg config.Config, epoch int, lossVal float64) bool {
	if math.IsNaN(lossVal) || math.IsInf(lossVal, 0) {
		return true
	}
	return lossVal > cfg.LossSkipThreshold && epoch > cfg.GuardWarmupEpochs
}

func logProgress(log logrus.FieldLogger, epoch, idx, total int, s *stepState) {
	if (idx+1)%10 != 0 {
		return
	}
	log.Infof("Train: [%d][%d/%d]\tBT %.3f (%.3f)\tDT %.3f (%.3f)\tcluster loss %.3f (%.3f)",
		epoch, idx+1, total,
		s.batchTime.Val, s.batchTime.Avg,
		s.dataTime.Val, s.dataTime.Avg,
		s.loss.Val, s.loss.Avg)
}

// runEpoch drives one epoch of the forward / guard / backward / step cycle.
// The task supplies only its batch loss.
func runEpoch(cfg config.Config, log logrus.FieldLogger, opt optimizer.Optimizer, epoch int, loader *data.DataLoader, lossFn func(*data.Batch) (*tensor.Tensor, error)) (*EpochStats, error) {
	state := &stepState{last: time.Now()}
	numBatches := loader.NumBatches()

	for idx := 0; loader.HasNext(); idx++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, errors.Wrap(err, "loading batch")
		}
		state.dataTime.Update(time.Since(state.last).Seconds(), 1)

		loss, err := lossFn(batch)
		if err != nil {
			return nil, err
		}
		lossVal, err := loss.Item()
		if err != nil {
			return nil, err
		}

		if guardTripped(cfg, epoch, lossVal) {
			log.Warnf("skip the step")
			state.skipped++
			state.last = time.Now()
			continue
		}

		opt.ZeroGrad()
		if err := tensor.Backward(loss); err != nil {
			return nil, errors.Wrap(err, "backward")
		}
		if err := opt.Step(); err != nil {
			return nil, errors.Wrap(err, "optimizer step")
		}

		state.loss.Update(lossVal, batch.Size())
		state.total.Update(lossVal, batch.Size())
		state.batchTime.Update(time.Since(state.last).Seconds(), 1)
		state.last = time.Now()
		logProgress(log, epoch, idx, numBatches, state)
	}

	return &EpochStats{
		ClusterLoss: state.loss.Avg,
		TotalLoss:   state.total.Avg,
		Skipped:     state.skipped,
	}, nil
}

// voxelTargets expands (B, H, W, D) cluster ids into one-hot masks of shape
// (B, K, H, W, D), outside the gradient graph.
func voxelTargets(labels *tensor.Tensor, k int) (*tensor.Tensor, error) {
	oneHot, err := tensor.OneHot(labels, k)
	if err != nil {
		return nil, err
	}
	return tensor.Permute(oneHot, []int{0, 4, 1, 2, 3})
}

// sliceBatchElem copies out element i of a (B, ...) tensor as a (...)
// tensor.
func sliceBatchElem(t *tensor.Tensor, i int) (*tensor.Tensor, error) {
	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	per := t.Strides[0]
	shape := append([]int(nil), t.Shape[1:]...)
	return tensor.NewTensor(shape, tensor.Float32, append([]float32(nil), data[i*per:(i+1)*per]...))
}

// ClusterCETask trains a voxel model against precomputed cluster labels
// with plain cross-entropy on the first crop. No spatial alignment is
// needed because predictions and labels live on the same grid.
type ClusterCETask struct {
	cfg config.Config
	net model.VoxelModel
	opt optimizer.Optimizer
	log logrus.FieldLogger
}

func NewClusterCETask(cfg config.Config, net model.VoxelModel, opt optimizer.Optimizer, log logrus.FieldLogger) (*ClusterCETask, error) {
	if net == nil || opt == nil {
		return nil, errors.New("model and optimizer are required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ClusterCETask{cfg: cfg, net: net, opt: opt, log: log}, nil
}

func (t *ClusterCETask) Parameters() []model.Parameter { return t.net.Parameters() }

func (t *ClusterCETask) RunEpoch(epoch int, loader *data.DataLoader) (*EpochStats, error) {
	return runEpoch(t.cfg, t.log, t.opt, epoch, loader, t.batchLoss)
}

func (t *ClusterCETask) batchLoss(batch *data.Batch) (*tensor.Tensor, error) {
	if batch.Labels1 == nil {
		return nil, errors.New("cluster task requires precomputed labels")
	}
	logits, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	probs, err := tensor.SoftmaxAutograd(logits, 1)
	if err != nil {
		return nil, err
	}
	gt, err := voxelTargets(batch.Labels1, t.net.ClusterCount())
	if err != nil {
		return nil, errors.Wrap(err, "building targets")
	}
	return cluster.CrossEntropy(gt, probs)
}

func (t *ClusterCETask) RenderPredictions(batch *data.Batch, palette vis.Palette, maxImages int) ([]image.Image, error) {
	logits, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, err
	}
	return renderVoxelMasks(logits.Detach(), palette, maxImages)
}

// ClusterSwAVTask trains a voxel model with the swapped prediction loss.
// Both crops are predicted, their label masks are one-hot encoded, and the
// four tensors are aligned on the crop intersection before scoring each
// view against the other view's targets.
type ClusterSwAVTask struct {
	cfg config.Config
	net model.VoxelModel
	opt optimizer.Optimizer
	log logrus.FieldLogger
}

func NewClusterSwAVTask(cfg config.Config, net model.VoxelModel, opt optimizer.Optimizer, log logrus.FieldLogger) (*ClusterSwAVTask, error) {
	if net == nil || opt == nil {
		return nil, errors.New("model and optimizer are required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ClusterSwAVTask{cfg: cfg, net: net, opt: opt, log: log}, nil
}

func (t *ClusterSwAVTask) Parameters() []model.Parameter { return t.net.Parameters() }

func (t *ClusterSwAVTask) RunEpoch(epoch int, loader *data.DataLoader) (*EpochStats, error) {
	return runEpoch(t.cfg, t.log, t.opt, epoch, loader, t.batchLoss)
}

func (t *ClusterSwAVTask) batchLoss(batch *data.Batch) (*tensor.Tensor, error) {
	if batch.Labels1 == nil || batch.Labels2 == nil {
		return nil, errors.New("swav task requires precomputed labels for both crops")
	}
	k := t.net.ClusterCount()

	logits1, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, errors.Wrap(err, "forward crop 1")
	}
	probs1, err := tensor.SoftmaxAutograd(logits1, 1)
	if err != nil {
		return nil, err
	}
	logits2, err := t.net.Predict(batch.Crop2)
	if err != nil {
		return nil, errors.Wrap(err, "forward crop 2")
	}
	probs2, err := tensor.SoftmaxAutograd(logits2, 1)
	if err != nil {
		return nil, err
	}

	gt1, err := voxelTargets(batch.Labels1, k)
	if err != nil {
		return nil, errors.Wrap(err, "building targets for crop 1")
	}
	gt2, err := voxelTargets(batch.Labels2, k)
	if err != nil {
		return nil, errors.Wrap(err, "building targets for crop 2")
	}

	roiP1, roiP2, roiG1, roiG2, err := cluster.RoiAlignIntersect(probs1, probs2, gt1, gt2, batch.Boxes1, batch.Boxes2)
	if err != nil {
		return nil, errors.Wrap(err, "aligning crop intersection")
	}
	return cluster.SwAV(roiG1, roiG2, roiP1, roiP2)
}

func (t *ClusterSwAVTask) RenderPredictions(batch *data.Batch, palette vis.Palette, maxImages int) ([]image.Image, error) {
	logits, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, err
	}
	return renderVoxelMasks(logits.Detach(), palette, maxImages)
}

func renderVoxelMasks(preds *tensor.Tensor, palette vis.Palette, maxImages int) ([]image.Image, error) {
	n := preds.Shape[0]
	if maxImages < n {
		n = maxImages
	}
	images := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		elem, err := sliceBatchElem(preds, i)
		if err != nil {
			return nil, err
		}
		img, err := vis.MaskSlice(elem, palette)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}
