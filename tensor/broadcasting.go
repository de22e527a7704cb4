package tensor

import (
	"fmt"
)

// BroadcastShapes computes the result shape of broadcasting two shapes
// following the usual trailing-dimension rules.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxLen := len(shape1)
	if len(shape2) > maxLen {
		maxLen = len(shape2)
	}

	result := make([]int, maxLen)
	for i := 0; i < maxLen; i++ {
		d1, d2 := 1, 1
		if i < len(shape1) {
			d1 = shape1[len(shape1)-1-i]
		}
		if i < len(shape2) {
			d2 = shape2[len(shape2)-1-i]
		}

		switch {
		case d1 == d2:
			result[maxLen-1-i] = d1
		case d1 == 1:
			result[maxLen-1-i] = d2
		case d2 == 1:
			result[maxLen-1-i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}
	return result, nil
}

// BroadcastTensor materializes t broadcast to targetShape.
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t, nil
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("broadcasting only supports Float32, got %s", t.DType)
	}

	// Validate compatibility.
	if _, err := BroadcastShapes(t.Shape, targetShape); err != nil {
		return nil, err
	}

	out, err := Zeros(targetShape, t.DType)
	if err != nil {
		return nil, err
	}

	srcData := t.Data.([]float32)
	dstData := out.Data.([]float32)

	// Pad the source shape with leading ones to the target rank.
	pad := len(targetShape) - len(t.Shape)
	srcShape := make([]int, len(targetShape))
	for i := range srcShape {
		if i < pad {
			srcShape[i] = 1
		} else {
			srcShape[i] = t.Shape[i-pad]
		}
	}
	srcStrides := calculateStrides(srcShape)

	coords := make([]int, len(targetShape))
	for dstIdx := 0; dstIdx < out.NumElems; dstIdx++ {
		rem := dstIdx
		for i := len(targetShape) - 1; i >= 0; i-- {
			coords[i] = rem % targetShape[i]
			rem /= targetShape[i]
		}
		srcIdx := 0
		for i := range coords {
			c := coords[i]
			if srcShape[i] == 1 {
				c = 0
			}
			srcIdx += c * srcStrides[i]
		}
		dstData[dstIdx] = srcData[srcIdx]
	}
	return out, nil
}

// ShapesEqual reports whether two shapes match exactly.
func ShapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

func shapesEqual(shape1, shape2 []int) bool {
	return ShapesEqual(shape1, shape2)
}

// BroadcastTensorsForOperation broadcasts both operands to their common
// shape before an elementwise operation.
func BroadcastTensorsForOperation(a, b *Tensor) (*Tensor, *Tensor, error) {
	if shapesEqual(a.Shape, b.Shape) {
		return a, b, nil
	}

	common, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, nil, err
	}

	aOut, err := BroadcastTensor(a, common)
	if err != nil {
		return nil, nil, err
	}
	bOut, err := BroadcastTensor(b, common)
	if err != nil {
		return nil, nil, err
	}
	return aOut, bOut, nil
}
