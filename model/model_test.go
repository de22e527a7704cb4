package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joangog/radioSSL/tensor"
)

func TestVoxelProjectorShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m, err := NewVoxelProjector(2, 5, rng)
	require.NoError(t, err)
	assert.Equal(t, 5, m.ClusterCount())

	params := m.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "projector.weight", params[0].Name)
	assert.Equal(t, []int{2, 5}, params[0].Tensor.Shape)
	assert.Equal(t, []int{5}, params[1].Tensor.Shape)
	for _, p := range params {
		assert.True(t, p.Tensor.RequiresGrad(), p.Name)
	}

	x, err := tensor.RandomNormal([]int{3, 2, 4, 4, 2}, 0, 1, rng)
	require.NoError(t, err)
	pred, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 4, 4, 2}, pred.Shape)
}

func TestVoxelProjectorGradientFlow(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m, err := NewVoxelProjector(1, 3, rng)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{1, 1, 2, 2, 2}, 0, 1, rng)
	require.NoError(t, err)
	pred, err := m.Predict(x)
	require.NoError(t, err)

	loss, err := tensor.MeanAllAutograd(pred)
	require.NoError(t, err)
	require.NoError(t, tensor.Backward(loss))
	for _, p := range m.Parameters() {
		assert.NotNil(t, p.Tensor.Grad(), p.Name)
	}
}

func TestVoxelProjectorRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := NewVoxelProjector(2, 4, rng)
	require.NoError(t, err)

	flat, err := tensor.Zeros([]int{2, 4}, tensor.Float32)
	require.NoError(t, err)
	_, err = m.Predict(flat)
	assert.ErrorContains(t, err, "5D")

	wrong, err := tensor.Zeros([]int{1, 3, 2, 2, 2}, tensor.Float32)
	require.NoError(t, err)
	_, err = m.Predict(wrong)
	assert.ErrorContains(t, err, "input channels")

	_, err = NewVoxelProjector(0, 4, rng)
	assert.Error(t, err)
}

func TestPatchProjectorShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := NewPatchProjector(1, 6, 4, 2, rng)
	require.NoError(t, err)
	assert.Equal(t, 4, m.ClusterCount())
	assert.Equal(t, 2, m.PatchSize())
	assert.Equal(t, []int{4, 6}, m.Prototypes().Shape)

	params := m.Parameters()
	require.Len(t, params, 3)
	for _, p := range params {
		assert.True(t, p.Tensor.RequiresGrad(), p.Name)
	}

	// (2, 1, 4, 4, 2) pooled by 2 gives 2*2*1 = 4 patches.
	x, err := tensor.RandomNormal([]int{2, 1, 4, 4, 2}, 0, 1, rng)
	require.NoError(t, err)
	emb, logits, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, emb.Shape)
	assert.Equal(t, []int{2, 4, 4}, logits.Shape)
}

func TestPatchProjectorGradientReachesPrototypes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := NewPatchProjector(1, 4, 3, 2, rng)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{1, 1, 2, 2, 2}, 0, 1, rng)
	require.NoError(t, err)
	_, logits, err := m.Predict(x)
	require.NoError(t, err)

	loss, err := tensor.MeanAllAutograd(logits)
	require.NoError(t, err)
	require.NoError(t, tensor.Backward(loss))
	for _, p := range m.Parameters() {
		assert.NotNil(t, p.Tensor.Grad(), p.Name)
	}
}

func TestPatchProjectorRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(6))

	_, err := NewPatchProjector(1, 0, 3, 2, rng)
	assert.Error(t, err)

	m, err := NewPatchProjector(2, 4, 3, 2, rng)
	require.NoError(t, err)

	wrong, err := tensor.Zeros([]int{1, 1, 2, 2, 2}, tensor.Float32)
	require.NoError(t, err)
	_, _, err = m.Predict(wrong)
	assert.ErrorContains(t, err, "input channels")

	// Extent not divisible by the patch size.
	odd, err := tensor.Zeros([]int{1, 2, 3, 2, 2}, tensor.Float32)
	require.NoError(t, err)
	_, _, err = m.Predict(odd)
	assert.Error(t, err)
}
