package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/joangog/radioSSL/tensor"
)

// VoxelProjector is a reference VoxelModel: a per-voxel linear map from
// input channels to cluster logits.
type VoxelProjector struct {
	weight   *tensor.Tensor // (C, K)
	bias     *tensor.Tensor // (K)
	channels int
	clusters int
}

// NewVoxelProjector builds a projector with fan-in scaled normal weights.
func NewVoxelProjector(channels, clusters int, rng *rand.Rand) (*VoxelProjector, error) {
	if channels <= 0 || clusters <= 0 {
		return nil, fmt.Errorf("invalid projector dimensions: channels=%d clusters=%d", channels, clusters)
	}
	weight, err := tensor.RandomNormal([]int{channels, clusters}, 0, float32(1/math.Sqrt(float64(channels))), rng)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.Zeros([]int{clusters}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &VoxelProjector{weight: weight, bias: bias, channels: channels, clusters: clusters}, nil
}

func (m *VoxelProjector) Parameters() []Parameter {
	return []Parameter{
		{Name: "projector.weight", Tensor: m.weight},
		{Name: "projector.bias", Tensor: m.bias},
	}
}

func (m *VoxelProjector) ClusterCount() int { return m.clusters }

// Predict applies the linear map at every voxel: (B, C, H, W, D) input
// becomes (B, K, H, W, D) logits.
func (m *VoxelProjector) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("expected 5D input, got shape %v", x.Shape)
	}
	b, c, h, w, d := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3], x.Shape[4]
	if c != m.channels {
		return nil, fmt.Errorf("expected %d input channels, got %d", m.channels, c)
	}

	channelsLast, err := tensor.PermuteAutograd(x, []int{0, 2, 3, 4, 1})
	if err != nil {
		return nil, err
	}
	flat, err := tensor.ReshapeAutograd(channelsLast, []int{b * h * w * d, c})
	if err != nil {
		return nil, err
	}
	logits, err := tensor.MatMulAutograd(flat, m.weight)
	if err != nil {
		return nil, err
	}
	logits, err = tensor.AddAutograd(logits, m.bias)
	if err != nil {
		return nil, err
	}
	grid, err := tensor.ReshapeAutograd(logits, []int{b, h, w, d, m.clusters})
	if err != nil {
		return nil, err
	}
	return tensor.PermuteAutograd(grid, []int{0, 4, 1, 2, 3})
}
