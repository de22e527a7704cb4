package tensor

import "fmt"

type avgPool3DOp struct {
	opBase
	kernel [3]int
}

func (op *avgPool3DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	src := op.inputs[0]
	g, err := Zeros(src.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	gOut := gradOut.Data.([]float32)

	b, c, h, w, d := src.Shape[0], src.Shape[1], src.Shape[2], src.Shape[3], src.Shape[4]
	kh, kw, kd := op.kernel[0], op.kernel[1], op.kernel[2]
	oh, ow, od := h/kh, w/kw, d/kd
	inv := float32(1.0) / float32(kh*kw*kd)

	outIdx := 0
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			base := bi*src.Strides[0] + ci*src.Strides[1]
			for oi := 0; oi < oh; oi++ {
				for oj := 0; oj < ow; oj++ {
					for ok := 0; ok < od; ok++ {
						gv := gOut[outIdx] * inv
						outIdx++
						for i := oi * kh; i < (oi+1)*kh; i++ {
							for j := oj * kw; j < (oj+1)*kw; j++ {
								off := base + i*src.Strides[2] + j*src.Strides[3] + ok*kd*src.Strides[4]
								for k := 0; k < kd; k++ {
									gData[off+k] += gv
								}
							}
						}
					}
				}
			}
		}
	}
	return []*Tensor{g}, nil
}

// AvgPool3D averages non-overlapping kernel-sized cells of a (B, C, H, W, D)
// tensor. Spatial extents must divide evenly by the kernel.
func AvgPool3D(t *Tensor, kernel [3]int) (*Tensor, error) {
	if len(t.Shape) != 5 {
		return nil, fmt.Errorf("AvgPool3D expects a 5D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("AvgPool3D supports float32 tensors only")
	}
	b, c, h, w, d := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], t.Shape[4]
	kh, kw, kd := kernel[0], kernel[1], kernel[2]
	if kh <= 0 || kw <= 0 || kd <= 0 {
		return nil, fmt.Errorf("invalid pooling kernel %v", kernel)
	}
	if h%kh != 0 || w%kw != 0 || d%kd != 0 {
		return nil, fmt.Errorf("spatial extents (%d, %d, %d) not divisible by kernel %v", h, w, d, kernel)
	}
	oh, ow, od := h/kh, w/kw, d/kd

	out, err := Zeros([]int{b, c, oh, ow, od}, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)
	inv := float32(1.0) / float32(kh*kw*kd)

	outIdx := 0
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			base := bi*t.Strides[0] + ci*t.Strides[1]
			for oi := 0; oi < oh; oi++ {
				for oj := 0; oj < ow; oj++ {
					for ok := 0; ok < od; ok++ {
						var sum float32
						for i := oi * kh; i < (oi+1)*kh; i++ {
							for j := oj * kw; j < (oj+1)*kw; j++ {
								off := base + i*t.Strides[2] + j*t.Strides[3] + ok*kd*t.Strides[4]
								for k := 0; k < kd; k++ {
									sum += src[off+k]
								}
							}
						}
						dst[outIdx] = sum * inv
						outIdx++
					}
				}
			}
		}
	}

	op := &avgPool3DOp{opBase: opBase{inputs: []*Tensor{t}}, kernel: kernel}
	return attach(out, op, op.inputs), nil
}

// Region selects a half-open voxel box per batch element: [X1, X2) along H,
// [Y1, Y2) along W, [Z1, Z2) along D. An empty range on any axis marks the
// region as empty.
type Region struct {
	X1, X2 int
	Y1, Y2 int
	Z1, Z2 int
}

// Empty reports whether the region covers no voxels.
func (r Region) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1 || r.Z2 <= r.Z1
}

type roiResampleOp struct {
	opBase
	regions []Region
}

// sourceIndex maps an output coordinate back to the region voxel it was
// copied from. Shared by forward and backward so the scatter matches the
// gather exactly.
func sourceIndex(i, start, length, outSize int) int {
	return start + i*length/outSize
}

func (op *roiResampleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	src := op.inputs[0]
	g, err := Zeros(src.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gData := g.Data.([]float32)
	gOut := gradOut.Data.([]float32)

	b, c, h, w, d := src.Shape[0], src.Shape[1], src.Shape[2], src.Shape[3], src.Shape[4]
	for bi := 0; bi < b; bi++ {
		r := op.regions[bi]
		if r.Empty() {
			continue
		}
		lh, lw, ld := r.X2-r.X1, r.Y2-r.Y1, r.Z2-r.Z1
		for ci := 0; ci < c; ci++ {
			base := bi*src.Strides[0] + ci*src.Strides[1]
			for i := 0; i < h; i++ {
				si := sourceIndex(i, r.X1, lh, h)
				for j := 0; j < w; j++ {
					sj := sourceIndex(j, r.Y1, lw, w)
					rowOut := base + i*src.Strides[2] + j*src.Strides[3]
					rowIn := base + si*src.Strides[2] + sj*src.Strides[3]
					for k := 0; k < d; k++ {
						sk := sourceIndex(k, r.Z1, ld, d)
						gData[rowIn+sk] += gOut[rowOut+k]
					}
				}
			}
		}
	}
	return []*Tensor{g}, nil
}

// RoiResampleNearest extracts one region per batch element from a
// (B, C, H, W, D) tensor and stretches it back to the full spatial extent
// with nearest-neighbor sampling. Empty regions produce all-zero output for
// that element and pass no gradient.
func RoiResampleNearest(t *Tensor, regions []Region) (*Tensor, error) {
	if len(t.Shape) != 5 {
		return nil, fmt.Errorf("RoiResampleNearest expects a 5D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("RoiResampleNearest supports float32 tensors only")
	}
	b, c, h, w, d := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], t.Shape[4]
	if len(regions) != b {
		return nil, fmt.Errorf("got %d regions for batch size %d", len(regions), b)
	}
	for bi, r := range regions {
		if r.Empty() {
			continue
		}
		if r.X1 < 0 || r.X2 > h || r.Y1 < 0 || r.Y2 > w || r.Z1 < 0 || r.Z2 > d {
			return nil, fmt.Errorf("region %d out of bounds: %+v for extent (%d, %d, %d)", bi, r, h, w, d)
		}
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)

	for bi := 0; bi < b; bi++ {
		r := regions[bi]
		if r.Empty() {
			continue
		}
		lh, lw, ld := r.X2-r.X1, r.Y2-r.Y1, r.Z2-r.Z1
		for ci := 0; ci < c; ci++ {
			base := bi*t.Strides[0] + ci*t.Strides[1]
			for i := 0; i < h; i++ {
				si := sourceIndex(i, r.X1, lh, h)
				for j := 0; j < w; j++ {
					sj := sourceIndex(j, r.Y1, lw, w)
					rowOut := base + i*t.Strides[2] + j*t.Strides[3]
					rowIn := base + si*t.Strides[2] + sj*t.Strides[3]
					for k := 0; k < d; k++ {
						sk := sourceIndex(k, r.Z1, ld, d)
						dst[rowOut+k] = src[rowIn+sk]
					}
				}
			}
		}
	}

	op := &roiResampleOp{opBase: opBase{inputs: []*Tensor{t}}, regions: append([]Region(nil), regions...)}
	return attach(out, op, op.inputs), nil
}
