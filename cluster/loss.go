package cluster

import (
	"fmt"

	"github.com/joangog/radioSSL/tensor"
)

const diceSmooth = 1e-5

// CrossEntropy computes -mean(gt * log(pred)) over all elements. pred holds
// predicted cluster probabilities and gt the balanced assignment targets;
// both are expected to be valid distributions over the cluster axis.
// Entries where gt is zero contribute exactly zero, so voxels masked out of
// both tensors (crop pairs with an empty intersection) leave the loss
// finite instead of turning 0 * log(0) into NaN.
func CrossEntropy(gt, pred *tensor.Tensor) (*tensor.Tensor, error) {
	prod, err := tensor.XLogYAutograd(gt, pred)
	if err != nil {
		return nil, err
	}
	mean, err := tensor.MeanAllAutograd(prod)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAutograd(mean, -1)
}

// SwAV is the swapped prediction loss: each view's predictions are scored
// against the other view's assignment targets, averaged symmetrically.
func SwAV(gt1, gt2, pred1, pred2 *tensor.Tensor) (*tensor.Tensor, error) {
	loss1, err := CrossEntropy(gt1, pred2)
	if err != nil {
		return nil, err
	}
	loss2, err := CrossEntropy(gt2, pred1)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.AddAutograd(loss1, loss2)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAutograd(sum, 0.5)
}

// diceTerm computes 1 - mean per-sample dice overlap between input and
// target, both flattened per batch element.
func diceTerm(input, target *tensor.Tensor) (*tensor.Tensor, error) {
	num := input.Shape[0]
	flatIn, err := tensor.ReshapeAutograd(input, []int{num, -1})
	if err != nil {
		return nil, err
	}
	flatTgt, err := tensor.Reshape(target, []int{num, -1})
	if err != nil {
		return nil, err
	}

	inter, err := tensor.MulAutograd(flatIn, flatTgt)
	if err != nil {
		return nil, err
	}
	interSum, err := tensor.SumDimAutograd(inter, 1)
	if err != nil {
		return nil, err
	}
	inSum, err := tensor.SumDimAutograd(flatIn, 1)
	if err != nil {
		return nil, err
	}
	tgtSum, err := tensor.SumDimAutograd(flatTgt, 1)
	if err != nil {
		return nil, err
	}

	numer, err := tensor.ScaleAutograd(interSum, 2)
	if err != nil {
		return nil, err
	}
	numer, err = tensor.AddScalarAutograd(numer, diceSmooth)
	if err != nil {
		return nil, err
	}
	denom, err := tensor.AddAutograd(inSum, tgtSum)
	if err != nil {
		return nil, err
	}
	denom, err = tensor.AddScalarAutograd(denom, diceSmooth)
	if err != nil {
		return nil, err
	}
	dice, err := tensor.DivAutograd(numer, denom)
	if err != nil {
		return nil, err
	}

	diceMean, err := tensor.SumDimAutograd(dice, 0)
	if err != nil {
		return nil, err
	}
	diceMean, err = tensor.ScaleAutograd(diceMean, 1/float64(num))
	if err != nil {
		return nil, err
	}
	neg, err := tensor.ScaleAutograd(diceMean, -1)
	if err != nil {
		return nil, err
	}
	return tensor.AddScalarAutograd(neg, 1)
}

// BCEDice combines the per-sample dice loss with binary cross-entropy on
// the raw logits, weighted dice + 0.2 * bce. With train false only the dice
// term is returned, for validation scoring.
func BCEDice(input, target *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(input.Shape) == 0 || input.Shape[0] == 0 {
		return nil, fmt.Errorf("empty batch in BCEDice")
	}
	dice, err := diceTerm(input, target)
	if err != nil {
		return nil, err
	}
	if !train {
		return dice, nil
	}
	bce, err := tensor.BCEWithLogitsAutograd(input, target)
	if err != nil {
		return nil, err
	}
	bce, err = tensor.ScaleAutograd(bce, 0.2)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(dice, bce)
}

// LIDCDiceLoss scores single-channel nodule segmentation.
func LIDCDiceLoss(input, target *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	return BCEDice(input, target, train)
}

// LiTSDiceLoss scores single-channel liver tumor segmentation.
func LiTSDiceLoss(input, target *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	return BCEDice(input, target, train)
}

// BraTSDiceLoss sums independent losses over the whole-tumor, tumor-core
// and enhancing-tumor channels of a (B, 3, H, W, D) prediction.
func BraTSDiceLoss(input, target *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 || input.Shape[1] != 3 {
		return nil, fmt.Errorf("expected 3 tumor channels, got shape %v", input.Shape)
	}
	var total *tensor.Tensor
	for c := 0; c < 3; c++ {
		in, err := tensor.SelectAutograd(input, 1, c)
		if err != nil {
			return nil, err
		}
		tgt, err := tensor.SelectAutograd(target, 1, c)
		if err != nil {
			return nil, err
		}
		loss, err := BCEDice(in, tgt, train)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = loss
			continue
		}
		total, err = tensor.AddAutograd(total, loss)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// SegLoss returns the segmentation loss matching a dataset name.
func SegLoss(dataset string) (func(input, target *tensor.Tensor, train bool) (*tensor.Tensor, error), error) {
	switch dataset {
	case "lidc":
		return LIDCDiceLoss, nil
	case "lits":
		return LiTSDiceLoss, nil
	case "brats":
		return BraTSDiceLoss, nil
	}
	return nil, fmt.Errorf("no segmentation loss for dataset %q", dataset)
}

// DiceCoeff reports the mean per-sample dice overlap as a plain score,
// outside the gradient graph.
func DiceCoeff(input, target *tensor.Tensor) (float64, error) {
	num := input.Shape[0]
	flatIn, err := tensor.Reshape(input.Detach(), []int{num, -1})
	if err != nil {
		return 0, err
	}
	flatTgt, err := tensor.Reshape(target.Detach(), []int{num, -1})
	if err != nil {
		return 0, err
	}
	inData, err := flatIn.GetFloat32Data()
	if err != nil {
		return 0, err
	}
	tgtData, err := flatTgt.GetFloat32Data()
	if err != nil {
		return 0, err
	}

	per := len(inData) / num
	var total float64
	for i := 0; i < num; i++ {
		var inter, sumIn, sumTgt float64
		for j := i * per; j < (i+1)*per; j++ {
			inter += float64(inData[j]) * float64(tgtData[j])
			sumIn += float64(inData[j])
			sumTgt += float64(tgtData[j])
		}
		total += (2*inter + diceSmooth) / (sumIn + sumTgt + diceSmooth)
	}
	return total / float64(num), nil
}
