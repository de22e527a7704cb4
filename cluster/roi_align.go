package cluster

import (
	"fmt"

	"github.com/joangog/radioSSL/tensor"
)

// Box is the bounding box of a crop in voxel coordinates of the source
// volume, before the crop was resized to the common network input size.
type Box struct {
	X1, X2 float64
	Y1, Y2 float64
	Z1, Z2 float64
}

// Valid reports whether the box has positive extent on every axis.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1 && b.Z2 > b.Z1
}

// intersectionRegion maps the overlap of two crop boxes into voxel ranges of
// the processed grid for the first crop. Fractional positions inside the
// crop are scaled by the grid extent and truncated, matching how the crops
// themselves were resampled.
func intersectionRegion(a, b Box, h, w, d int) tensor.Region {
	x1 := maxf(a.X1, b.X1)
	x2 := minf(a.X2, b.X2)
	y1 := maxf(a.Y1, b.Y1)
	y2 := minf(a.Y2, b.Y2)
	z1 := maxf(a.Z1, b.Z1)
	z2 := minf(a.Z2, b.Z2)

	return tensor.Region{
		X1: int((x1 - a.X1) / (a.X2 - a.X1) * float64(h)),
		X2: int((x2 - a.X1) / (a.X2 - a.X1) * float64(h)),
		Y1: int((y1 - a.Y1) / (a.Y2 - a.Y1) * float64(w)),
		Y2: int((y2 - a.Y1) / (a.Y2 - a.Y1) * float64(w)),
		Z1: int((z1 - a.Z1) / (a.Z2 - a.Z1) * float64(d)),
		Z2: int((z2 - a.Z1) / (a.Z2 - a.Z1) * float64(d)),
	}
}

// RoiAlignIntersect restricts two overlapping crop views to their shared
// region. For each batch element it locates the intersection of the two
// crop boxes, cuts the corresponding voxel block out of each (B, K, H, W, D)
// input, and stretches it back to the full grid with nearest-neighbor
// sampling so the four outputs are voxel-wise comparable. Elements whose
// crops do not overlap come back all zero.
//
// pred tensors stay connected to the gradient graph; gt tensors are
// expected to be detached targets.
func RoiAlignIntersect(pred1, pred2, gt1, gt2 *tensor.Tensor, boxes1, boxes2 []Box) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if len(pred1.Shape) != 5 {
		return nil, nil, nil, nil, fmt.Errorf("expected 5D predictions, got shape %v", pred1.Shape)
	}
	b, h, w, d := pred1.Shape[0], pred1.Shape[2], pred1.Shape[3], pred1.Shape[4]
	if len(boxes1) != b || len(boxes2) != b {
		return nil, nil, nil, nil, fmt.Errorf("got %d and %d boxes for batch size %d", len(boxes1), len(boxes2), b)
	}
	for i := 0; i < b; i++ {
		if !boxes1[i].Valid() || !boxes2[i].Valid() {
			return nil, nil, nil, nil, fmt.Errorf("degenerate crop box at batch element %d", i)
		}
	}

	regions1 := make([]tensor.Region, b)
	regions2 := make([]tensor.Region, b)
	for i := 0; i < b; i++ {
		regions1[i] = intersectionRegion(boxes1[i], boxes2[i], h, w, d)
		regions2[i] = intersectionRegion(boxes2[i], boxes1[i], h, w, d)
	}

	roiPred1, err := tensor.RoiResampleNearest(pred1, regions1)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	roiPred2, err := tensor.RoiResampleNearest(pred2, regions2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	roiGt1, err := tensor.RoiResampleNearest(gt1, regions1)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	roiGt2, err := tensor.RoiResampleNearest(gt2, regions2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return roiPred1, roiPred2, roiGt1, roiGt2, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
