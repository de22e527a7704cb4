package tensor

import (
	"fmt"
)

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		data := t.Data.([]int32)
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element Float32 tensor as float64.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires exactly one element, got %d", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

func (t *Tensor) flatIndex(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, ix := range indices {
		if ix < 0 || ix >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", ix, i, t.Shape[i])
		}
		idx += ix * t.Strides[i]
	}
	return idx, nil
}

func (t *Tensor) At(indices ...int) (float64, error) {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return 0, err
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[idx]), nil
	case Int32:
		return float64(t.Data.([]int32)[idx]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for At: %s", t.DType)
	}
}

func (t *Tensor) SetAt(value float64, indices ...int) error {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return err
	}
	switch t.DType {
	case Float32:
		t.Data.([]float32)[idx] = float32(value)
	case Int32:
		t.Data.([]int32)[idx] = int32(value)
	default:
		return fmt.Errorf("unsupported dtype for SetAt: %s", t.DType)
	}
	return nil
}

func (t *Tensor) Size() []int {
	return append([]int(nil), t.Shape...)
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Equal(other *Tensor) bool {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	switch t.DType {
	case Float32:
		a := t.Data.([]float32)
		b := other.Data.([]float32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case Int32:
		a := t.Data.([]int32)
		b := other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// ZeroGrad clears accumulated gradients on the given parameter tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}
