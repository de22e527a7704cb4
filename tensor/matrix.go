package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatMul computes the 2-D matrix product t1 @ t2 using gonum's float32 BLAS.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("MatMul requires Float32 tensors, got %s and %s", t1.DType, t2.DType)
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}

	m, k := t1.Shape[0], t1.Shape[1]
	k2, n := t2.Shape[0], t2.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimension mismatch: %v @ %v", t1.Shape, t2.Shape)
	}

	out, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}

	a := blas32.General{Rows: m, Cols: k, Stride: k, Data: t1.Data.([]float32)}
	b := blas32.General{Rows: k, Cols: n, Stride: n, Data: t2.Data.([]float32)}
	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.Data.([]float32)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)

	return out, nil
}

// Transpose swaps two dimensions, materializing the result.
func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	perm := make([]int, len(t.Shape))
	for i := range perm {
		perm[i] = i
	}
	if dim0 < 0 || dim0 >= len(perm) || dim1 < 0 || dim1 >= len(perm) {
		return nil, fmt.Errorf("transpose dims (%d, %d) out of range for shape %v", dim0, dim1, t.Shape)
	}
	perm[dim0], perm[dim1] = perm[dim1], perm[dim0]
	return Permute(t, perm)
}

// Permute reorders dimensions according to perm, materializing the result.
func Permute(t *Tensor, perm []int) (*Tensor, error) {
	if len(perm) != len(t.Shape) {
		return nil, fmt.Errorf("perm %v does not match tensor rank %d", perm, len(t.Shape))
	}
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
	}

	outShape := make([]int, len(perm))
	for i, p := range perm {
		outShape[i] = t.Shape[p]
	}

	out, err := Zeros(outShape, t.DType)
	if err != nil {
		return nil, err
	}

	outStrides := out.Strides
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := out.Data.([]float32)
		coords := make([]int, len(t.Shape))
		for srcIdx := 0; srcIdx < t.NumElems; srcIdx++ {
			rem := srcIdx
			for i := len(t.Shape) - 1; i >= 0; i-- {
				coords[i] = rem % t.Shape[i]
				rem /= t.Shape[i]
			}
			dstIdx := 0
			for i, p := range perm {
				dstIdx += coords[p] * outStrides[i]
			}
			dst[dstIdx] = src[srcIdx]
		}
	case Int32:
		src := t.Data.([]int32)
		dst := out.Data.([]int32)
		coords := make([]int, len(t.Shape))
		for srcIdx := 0; srcIdx < t.NumElems; srcIdx++ {
			rem := srcIdx
			for i := len(t.Shape) - 1; i >= 0; i-- {
				coords[i] = rem % t.Shape[i]
				rem /= t.Shape[i]
			}
			dstIdx := 0
			for i, p := range perm {
				dstIdx += coords[p] * outStrides[i]
			}
			dst[dstIdx] = src[srcIdx]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Permute: %s", t.DType)
	}

	return out, nil
}

// inversePermutation returns the permutation that undoes perm.
func inversePermutation(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// Reshape returns a tensor with a new shape sharing the same data. One
// dimension may be -1 and is inferred.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	shape := append([]int(nil), newShape...)

	known := 1
	inferIdx := -1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1 in %v", newShape)
			}
			inferIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		default:
			known *= dim
		}
	}
	if inferIdx >= 0 {
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension: %d elements not divisible by %d", t.NumElems, known)
		}
		shape[inferIdx] = t.NumElems / known
		known *= shape[inferIdx]
	}
	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %d elements into %v", t.NumElems, newShape)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Sum reduces over one dimension. keepDim retains the reduced axis as size 1.
func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sum only supports Float32, got %s", t.DType)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for shape %v", dim, t.Shape)
	}

	n := t.Shape[dim]
	stride := t.Strides[dim]
	outer := t.NumElems / n

	outShape := make([]int, 0, len(t.Shape))
	for i, s := range t.Shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, s)
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := out.Data.([]float32)
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, dim, t.Shape, t.Strides)
		var sum float32
		for j := 0; j < n; j++ {
			sum += src[base+j*stride]
		}
		dst[lane] = sum
	}
	return out, nil
}

// SumAll adds every element into a scalar tensor.
func SumAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumAll only supports Float32, got %s", t.DType)
	}
	data := t.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}
	return NewTensor([]int{1}, Float32, []float32{sum})
}

// MeanAll averages every element into a scalar tensor.
func MeanAll(t *Tensor) (*Tensor, error) {
	s, err := SumAll(t)
	if err != nil {
		return nil, err
	}
	return Scale(s, 1.0/float64(t.NumElems))
}

// ArgMax returns Int32 indices of the maximum along dim (axis removed).
func ArgMax(t *Tensor, dim int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ArgMax only supports Float32, got %s", t.DType)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for shape %v", dim, t.Shape)
	}

	n := t.Shape[dim]
	stride := t.Strides[dim]
	outer := t.NumElems / n

	outShape := make([]int, 0, len(t.Shape))
	for i, s := range t.Shape {
		if i != dim {
			outShape = append(outShape, s)
		}
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	out, err := Zeros(outShape, Int32)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := out.Data.([]int32)
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, dim, t.Shape, t.Strides)
		best := 0
		bestVal := src[base]
		for j := 1; j < n; j++ {
			if v := src[base+j*stride]; v > bestVal {
				bestVal = v
				best = j
			}
		}
		dst[lane] = int32(best)
	}
	return out, nil
}
