// Package cluster implements online clustering for self-supervised
// pretraining: Sinkhorn-Knopp balanced assignment, crop-intersection
// alignment of voxel predictions, and the cluster losses.
package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/joangog/radioSSL/tensor"
)

// Sinkhorn converts a K x M matrix of non-negative prototype scores into a
// balanced soft assignment matrix of shape M x K. Rows of the result sum to
// one, and mass is spread evenly across the K prototypes by alternating
// row and column rescaling for iters rounds.
//
// The input is never modified. Scores that sum to zero or contain
// non-finite values cannot be balanced and return an error.
func Sinkhorn(scores *tensor.Tensor, iters int) (*tensor.Tensor, error) {
	if len(scores.Shape) != 2 {
		return nil, fmt.Errorf("sinkhorn expects a 2D score matrix, got shape %v", scores.Shape)
	}
	if iters <= 0 {
		return nil, fmt.Errorf("sinkhorn iteration count must be positive, got %d", iters)
	}
	k, m := scores.Shape[0], scores.Shape[1]

	src, err := scores.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	q := make([]float64, k*m)
	for i, v := range src {
		q[i] = float64(v)
	}
	total := floats.Sum(q)
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return nil, fmt.Errorf("sinkhorn scores sum to %v, cannot normalize", total)
	}
	floats.Scale(1/total, q)

	rowSum := make([]float64, k)
	colSum := make([]float64, m)
	for it := 0; it < iters; it++ {
		for i := 0; i < k; i++ {
			rowSum[i] = floats.Sum(q[i*m : (i+1)*m])
		}
		for i := 0; i < k; i++ {
			if rowSum[i] <= 0 {
				return nil, fmt.Errorf("sinkhorn prototype row %d carries no mass", i)
			}
			floats.Scale(1/(float64(k)*rowSum[i]), q[i*m:(i+1)*m])
		}

		for j := range colSum {
			colSum[j] = 0
		}
		for i := 0; i < k; i++ {
			floats.Add(colSum, q[i*m:(i+1)*m])
		}
		for i := 0; i < k; i++ {
			row := q[i*m : (i+1)*m]
			for j, cs := range colSum {
				if cs <= 0 {
					return nil, fmt.Errorf("sinkhorn sample column %d carries no mass", j)
				}
				row[j] /= float64(m) * cs
			}
		}
	}

	// Final column normalization, then transpose so each sample row of the
	// output sums to one.
	for j := range colSum {
		colSum[j] = 0
	}
	for i := 0; i < k; i++ {
		floats.Add(colSum, q[i*m:(i+1)*m])
	}

	out := make([]float32, m*k)
	for i := 0; i < k; i++ {
		for j := 0; j < m; j++ {
			out[j*k+i] = float32(q[i*m+j] / colSum[j])
		}
	}
	return tensor.NewTensor([]int{m, k}, tensor.Float32, out)
}

// NormalizeRows returns a copy of a 2D tensor with each row scaled to unit
// L2 norm. Zero rows are left as zeros.
func NormalizeRows(t *tensor.Tensor) (*tensor.Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("NormalizeRows expects a 2D tensor, got shape %v", t.Shape)
	}
	src, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		row := src[i*cols : (i+1)*cols]
		var norm float64
		for _, v := range row {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for j, v := range row {
			out[i*cols+j] = float32(float64(v) / norm)
		}
	}
	return tensor.NewTensor(t.Shape, tensor.Float32, out)
}
