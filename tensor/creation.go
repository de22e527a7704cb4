package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		values, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(values) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), t.Shape, t.NumElems)
		}
		t.Data = values
	case Int32:
		values, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 data for Int32 tensor, got %T", data)
		}
		if len(values) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), t.Shape, t.NumElems)
		}
		t.Data = values
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	t, err := Zeros(shape, dtype)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		data := t.Data.([]float32)
		for i := range data {
			data[i] = 1
		}
	case Int32:
		data := t.Data.([]int32)
		for i := range data {
			data[i] = 1
		}
	}
	return t, nil
}

func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// FromScalar creates a single-element Float32 tensor.
func FromScalar(value float64) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{float32(value)})
	return t
}

// RandomNormal fills a new tensor with draws from N(mean, std) using the
// provided RNG. Callers own the RNG so runs stay reproducible.
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
	return t, nil
}

// OneHot expands integer class ids into a one-hot dimension appended as the
// last axis: shape (...) -> (..., numClasses).
func OneHot(ids *Tensor, numClasses int) (*Tensor, error) {
	if ids.DType != Int32 {
		return nil, fmt.Errorf("OneHot requires an Int32 tensor, got %s", ids.DType)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	outShape := append(append([]int(nil), ids.Shape...), numClasses)
	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	idData := ids.Data.([]int32)
	outData := out.Data.([]float32)
	for i, id := range idData {
		if id < 0 || int(id) >= numClasses {
			return nil, fmt.Errorf("class id %d out of range [0, %d)", id, numClasses)
		}
		outData[i*numClasses+int(id)] = 1
	}
	return out, nil
}
