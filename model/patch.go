package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/joangog/radioSSL/tensor"
)

// PatchProjector is a reference PatchModel: average-pools the volume into
// cubic patches, projects each patch to an embedding, and scores it against
// a learned prototype bank.
type PatchProjector struct {
	weight     *tensor.Tensor // (C, D)
	bias       *tensor.Tensor // (D)
	prototypes *tensor.Tensor // (K, D)
	channels   int
	embDim     int
	clusters   int
	patchSize  int
}

// NewPatchProjector builds a projector for cubic patches of edge patchSize.
func NewPatchProjector(channels, embDim, clusters, patchSize int, rng *rand.Rand) (*PatchProjector, error) {
	if channels <= 0 || embDim <= 0 || clusters <= 0 || patchSize <= 0 {
		return nil, fmt.Errorf("invalid projector dimensions: channels=%d embDim=%d clusters=%d patchSize=%d",
			channels, embDim, clusters, patchSize)
	}
	weight, err := tensor.RandomNormal([]int{channels, embDim}, 0, float32(1/math.Sqrt(float64(channels))), rng)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.Zeros([]int{embDim}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	prototypes, err := tensor.RandomNormal([]int{clusters, embDim}, 0, float32(1/math.Sqrt(float64(embDim))), rng)
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	prototypes.SetRequiresGrad(true)
	return &PatchProjector{
		weight:     weight,
		bias:       bias,
		prototypes: prototypes,
		channels:   channels,
		embDim:     embDim,
		clusters:   clusters,
		patchSize:  patchSize,
	}, nil
}

func (m *PatchProjector) Parameters() []Parameter {
	return []Parameter{
		{Name: "patch.weight", Tensor: m.weight},
		{Name: "patch.bias", Tensor: m.bias},
		{Name: "patch.prototypes", Tensor: m.prototypes},
	}
}

func (m *PatchProjector) Prototypes() *tensor.Tensor { return m.prototypes }
func (m *PatchProjector) PatchSize() int             { return m.patchSize }
func (m *PatchProjector) ClusterCount() int          { return m.clusters }

// Predict pools (B, C, H, W, D) input into P-sized patches and returns
// patch embeddings (B, N, D) and prototype logits (B, N, K) with
// N = (H/P)(W/P)(D/P).
func (m *PatchProjector) Predict(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, nil, fmt.Errorf("expected 5D input, got shape %v", x.Shape)
	}
	b, c := x.Shape[0], x.Shape[1]
	if c != m.channels {
		return nil, nil, fmt.Errorf("expected %d input channels, got %d", m.channels, c)
	}

	p := m.patchSize
	pooled, err := tensor.AvgPool3D(x, [3]int{p, p, p})
	if err != nil {
		return nil, nil, err
	}
	hp, wp, dp := pooled.Shape[2], pooled.Shape[3], pooled.Shape[4]
	n := hp * wp * dp

	channelsLast, err := tensor.PermuteAutograd(pooled, []int{0, 2, 3, 4, 1})
	if err != nil {
		return nil, nil, err
	}
	flat, err := tensor.ReshapeAutograd(channelsLast, []int{b * n, c})
	if err != nil {
		return nil, nil, err
	}
	emb, err := tensor.MatMulAutograd(flat, m.weight)
	if err != nil {
		return nil, nil, err
	}
	emb, err = tensor.AddAutograd(emb, m.bias)
	if err != nil {
		return nil, nil, err
	}

	protoT, err := tensor.PermuteAutograd(m.prototypes, []int{1, 0})
	if err != nil {
		return nil, nil, err
	}
	logits, err := tensor.MatMulAutograd(emb, protoT)
	if err != nil {
		return nil, nil, err
	}

	embOut, err := tensor.ReshapeAutograd(emb, []int{b, n, m.embDim})
	if err != nil {
		return nil, nil, err
	}
	logitsOut, err := tensor.ReshapeAutograd(logits, []int{b, n, m.clusters})
	if err != nil {
		return nil, nil, err
	}
	return embOut, logitsOut, nil
}
