package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

type binaryFunc func(a, b float32) float32

func elementwise(t1, t2 *Tensor, f binaryFunc) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("elementwise math only supports Float32, got %s", t1.DType)
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, len(aData))
	for i := range result {
		result[i] = f(aData[i], bData[i])
	}
	return NewTensor(a.Shape, Float32, result)
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a * b })
}

// Div performs elementwise division. Division by zero follows IEEE float
// semantics and produces Inf/NaN rather than an error.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a / b })
}

func unary(t *Tensor, f func(float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unary math only supports Float32, got %s", t.DType)
	}
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, v := range data {
		result[i] = f(v)
	}
	return NewTensor(t.Shape, Float32, result)
}

func Exp(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm. Zero or negative inputs produce
// -Inf/NaN, matching the sharp edge documented for the cluster losses.
func Log(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

func Sqrt(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return float32(1.0 / (1.0 + math.Exp(-float64(v)))) })
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return v * float32(s) })
}

// Softmax normalizes along the given dimension with the usual max-shift for
// numerical stability. Outputs are strictly positive probabilities.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("softmax only supports Float32, got %s", t.DType)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("softmax dim %d out of range for shape %v", dim, t.Shape)
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))

	n := t.Shape[dim]
	stride := t.Strides[dim]
	// Iterate over every 1-D lane along dim.
	outer := t.NumElems / n
	for lane := 0; lane < outer; lane++ {
		base := laneOffset(lane, dim, t.Shape, t.Strides)

		maxVal := data[base]
		for j := 1; j < n; j++ {
			if v := data[base+j*stride]; v > maxVal {
				maxVal = v
			}
		}

		var sum float32
		for j := 0; j < n; j++ {
			e := float32(math.Exp(float64(data[base+j*stride] - maxVal)))
			result[base+j*stride] = e
			sum += e
		}
		for j := 0; j < n; j++ {
			result[base+j*stride] /= sum
		}
	}

	return NewTensor(t.Shape, Float32, result)
}

// laneOffset maps a lane index to the flat offset of the first element of
// the lane-th 1-D slice running along dimension dim.
func laneOffset(lane, dim int, shape, strides []int) int {
	offset := 0
	for i := len(shape) - 1; i >= 0; i-- {
		if i == dim {
			continue
		}
		offset += (lane % shape[i]) * strides[i]
		lane /= shape[i]
	}
	return offset
}
