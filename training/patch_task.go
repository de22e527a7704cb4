package training

import (
	"image"
	"math"

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

// ClusterPatchTask trains a patch model without precomputed labels. Targets
// come from the model itself: patch embeddings are scored against the
// detached prototype bank and balanced with Sinkhorn, and each crop's
// predictions are trained toward the other crop's targets on the crop
// intersection.
type ClusterPatchTask struct {
	cfg config.Config
	net model.PatchModel
	opt optimizer.Optimizer
	log logrus.FieldLogger
}

func NewClusterPatchTask(cfg config.Config, net model.PatchModel, opt optimizer.Optimizer, log logrus.FieldLogger) (*ClusterPatchTask, error) {
	if net == nil || opt == nil {
		return nil, errors.New("model and optimizer are required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ClusterPatchTask{cfg: cfg, net: net, opt: opt, log: log}, nil
}

func (t *ClusterPatchTask) Parameters() []model.Parameter { return t.net.Parameters() }

func (t *ClusterPatchTask) RunEpoch(epoch int, loader *data.DataLoader) (*EpochStats, error) {
	return runEpoch(t.cfg, t.log, t.opt, epoch, loader, t.batchLoss)
}

func (t *ClusterPatchTask) batchLoss(batch *data.Batch) (*tensor.Tensor, error) {
	b := batch.Crop1.Shape[0]
	h, w, d := batch.Crop1.Shape[2], batch.Crop1.Shape[3], batch.Crop1.Shape[4]
	p := t.net.PatchSize()
	hp, wp, dp := h/p, w/p, d/p
	n := hp * wp * dp
	k := t.net.ClusterCount()

	emb1, logits1, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, errors.Wrap(err, "forward crop 1")
	}
	emb2, logits2, err := t.net.Predict(batch.Crop2)
	if err != nil {
		return nil, errors.Wrap(err, "forward crop 2")
	}

	// Teacher targets are stop-gradients: detached embeddings against a
	// detached prototype clone.
	gt1, err := t.teacherTargets(emb1, b, n, k)
	if err != nil {
		return nil, errors.Wrap(err, "targets for crop 1")
	}
	gt2, err := t.teacherTargets(emb2, b, n, k)
	if err != nil {
		return nil, errors.Wrap(err, "targets for crop 2")
	}

	probs1, err := tensor.SoftmaxAutograd(logits1, 2)
	if err != nil {
		return nil, err
	}
	probs2, err := tensor.SoftmaxAutograd(logits2, 2)
	if err != nil {
		return nil, err
	}

	// Restore patch grid positions: (B, N, K) -> (B, K, HP, WP, DP).
	maskShape := []int{b, k, hp, wp, dp}
	predMask1, err := patchesToMaskAutograd(probs1, maskShape)
	if err != nil {
		return nil, err
	}
	predMask2, err := patchesToMaskAutograd(probs2, maskShape)
	if err != nil {
		return nil, err
	}
	gtMask1, err := patchesToMask(gt1, maskShape)
	if err != nil {
		return nil, err
	}
	gtMask2, err := patchesToMask(gt2, maskShape)
	if err != nil {
		return nil, err
	}

	roiP1, roiP2, roiG1, roiG2, err := cluster.RoiAlignIntersect(predMask1, predMask2, gtMask1, gtMask2, batch.Boxes1, batch.Boxes2)
	if err != nil {
		return nil, errors.Wrap(err, "aligning crop intersection")
	}
	return cluster.SwAV(roiG1, roiG2, roiP1, roiP2)
}

// teacherTargets balances the prototype similarity scores of (B, N, D)
// embeddings into (B, N, K) soft assignments, outside the gradient graph.
func (t *ClusterPatchTask) teacherTargets(emb *tensor.Tensor, b, n, k int) (*tensor.Tensor, error) {
	flat, err := tensor.Reshape(emb.Detach(), []int{b * n, -1})
	if err != nil {
		return nil, err
	}
	embNorm, err := cluster.NormalizeRows(flat)
	if err != nil {
		return nil, err
	}
	proto, err := cluster.NormalizeRows(t.net.Prototypes().Detach())
	if err != nil {
		return nil, err
	}
	protoT, err := tensor.Transpose(proto, 0, 1)
	if err != nil {
		return nil, err
	}
	cos, err := tensor.MatMul(embNorm, protoT) // (B*N, K) cosine similarities
	if err != nil {
		return nil, err
	}

	// Transposed exponentiated scores feed the balancing solver.
	cosData, err := cos.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	m := b * n
	scores := make([]float32, k*m)
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			scores[j*m+i] = float32(math.Exp(float64(cosData[i*k+j]) / t.cfg.SinkhornEpsilon))
		}
	}
	q, err := tensor.NewTensor([]int{k, m}, tensor.Float32, scores)
	if err != nil {
		return nil, err
	}

	gt, err := cluster.Sinkhorn(q, t.cfg.SinkhornIters)
	if err != nil {
		return nil, err
	}
	if t.cfg.TargetTemperature != 1 {
		gt, err = tensor.Scale(gt, 1/t.cfg.TargetTemperature)
		if err != nil {
			return nil, err
		}
	}
	return tensor.Reshape(gt, []int{b, n, k})
}

func patchesToMaskAutograd(probs *tensor.Tensor, maskShape []int) (*tensor.Tensor, error) {
	perm, err := tensor.PermuteAutograd(probs, []int{0, 2, 1})
	if err != nil {
		return nil, err
	}
	return tensor.ReshapeAutograd(perm, maskShape)
}

func patchesToMask(probs *tensor.Tensor, maskShape []int) (*tensor.Tensor, error) {
	perm, err := tensor.Permute(probs, []int{0, 2, 1})
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(perm, maskShape)
}

func (t *ClusterPatchTask) RenderPredictions(batch *data.Batch, palette vis.Palette, maxImages int) ([]image.Image, error) {
	b := batch.Crop1.Shape[0]
	h, w, d := batch.Crop1.Shape[2], batch.Crop1.Shape[3], batch.Crop1.Shape[4]
	p := t.net.PatchSize()
	maskShape := []int{b, t.net.ClusterCount(), h / p, w / p, d / p}

	_, logits, err := t.net.Predict(batch.Crop1)
	if err != nil {
		return nil, err
	}
	probs, err := tensor.Softmax(logits.Detach(), 2)
	if err != nil {
		return nil, err
	}
	mask, err := patchesToMask(probs, maskShape)
	if err != nil {
		return nil, err
	}
	return renderVoxelMasks(mask, palette, maxImages)
}
