package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joangog/radioSSL/tensor"
)

func randomVolume(t *testing.T, shape []int, seed int64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	vol, err := tensor.RandomNormal(shape, 0, 1, rng)
	require.NoError(t, err)
	return vol
}

func repeatBox(b Box, n int) []Box {
	boxes := make([]Box, n)
	for i := range boxes {
		boxes[i] = b
	}
	return boxes
}

func TestRoiAlignIntersectShapePreserved(t *testing.T) {
	shape := []int{2, 3, 4, 4, 4}
	p1 := randomVolume(t, shape, 1)
	p2 := randomVolume(t, shape, 2)
	g1 := randomVolume(t, shape, 3)
	g2 := randomVolume(t, shape, 4)

	b1 := repeatBox(Box{X1: 0, X2: 32, Y1: 0, Y2: 32, Z1: 0, Z2: 32}, 2)
	b2 := repeatBox(Box{X1: 16, X2: 48, Y1: 16, Y2: 48, Z1: 16, Z2: 48}, 2)

	r1, r2, r3, r4, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)
	for _, r := range []*tensor.Tensor{r1, r2, r3, r4} {
		assert.Equal(t, shape, r.Shape)
	}
}

func TestRoiAlignIntersectIdenticalBoxesIsIdentity(t *testing.T) {
	shape := []int{1, 2, 4, 4, 4}
	p1 := randomVolume(t, shape, 5)
	p2 := randomVolume(t, shape, 6)
	g1 := randomVolume(t, shape, 7)
	g2 := randomVolume(t, shape, 8)

	boxes := repeatBox(Box{X1: 10, X2: 42, Y1: 5, Y2: 37, Z1: 0, Z2: 32}, 1)

	r1, r2, r3, r4, err := RoiAlignIntersect(p1, p2, g1, g2, boxes, boxes)
	require.NoError(t, err)
	assert.True(t, r1.Equal(p1), "pred1 should pass through unchanged")
	assert.True(t, r2.Equal(p2), "pred2 should pass through unchanged")
	assert.True(t, r3.Equal(g1), "gt1 should pass through unchanged")
	assert.True(t, r4.Equal(g2), "gt2 should pass through unchanged")
}

func TestRoiAlignIntersectIsDeterministic(t *testing.T) {
	shape := []int{2, 2, 4, 4, 4}
	p1 := randomVolume(t, shape, 21)
	p2 := randomVolume(t, shape, 22)
	g1 := randomVolume(t, shape, 23)
	g2 := randomVolume(t, shape, 24)

	b1 := repeatBox(Box{X1: 0, X2: 40, Y1: 0, Y2: 40, Z1: 0, Z2: 40}, 2)
	b2 := repeatBox(Box{X1: 12, X2: 52, Y1: 8, Y2: 48, Z1: 4, Z2: 44}, 2)

	a1, a2, a3, a4, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)
	c1, c2, c3, c4, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)

	assert.True(t, a1.Equal(c1))
	assert.True(t, a2.Equal(c2))
	assert.True(t, a3.Equal(c3))
	assert.True(t, a4.Equal(c4))
}

func TestRoiAlignIntersectDisjointBoxesAreZero(t *testing.T) {
	shape := []int{1, 1, 4, 4, 4}
	p1 := randomVolume(t, shape, 9)
	p2 := randomVolume(t, shape, 10)
	g1 := randomVolume(t, shape, 11)
	g2 := randomVolume(t, shape, 12)

	b1 := repeatBox(Box{X1: 0, X2: 16, Y1: 0, Y2: 16, Z1: 0, Z2: 16}, 1)
	b2 := repeatBox(Box{X1: 32, X2: 48, Y1: 32, Y2: 48, Z1: 32, Z2: 48}, 1)

	r1, _, _, _, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)
	data, err := r1.GetFloat32Data()
	require.NoError(t, err)
	for i, v := range data {
		require.Zerof(t, v, "voxel %d should be zero for disjoint crops", i)
	}
}

func TestRoiAlignIntersectContainment(t *testing.T) {
	// Crop 2 sits fully inside crop 1, so crop 2's view of the
	// intersection is its entire extent and passes through unchanged.
	shape := []int{1, 1, 4, 4, 4}
	p1 := randomVolume(t, shape, 13)
	p2 := randomVolume(t, shape, 14)
	g1 := randomVolume(t, shape, 15)
	g2 := randomVolume(t, shape, 16)

	b1 := repeatBox(Box{X1: 0, X2: 64, Y1: 0, Y2: 64, Z1: 0, Z2: 64}, 1)
	b2 := repeatBox(Box{X1: 16, X2: 32, Y1: 16, Y2: 32, Z1: 16, Z2: 32}, 1)

	_, r2, _, _, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)
	assert.True(t, r2.Equal(p2), "inner crop should pass through unchanged")
}

func TestRoiAlignIntersectRejectsDegenerateBox(t *testing.T) {
	shape := []int{1, 1, 2, 2, 2}
	vol := randomVolume(t, shape, 17)
	good := repeatBox(Box{X1: 0, X2: 8, Y1: 0, Y2: 8, Z1: 0, Z2: 8}, 1)
	bad := repeatBox(Box{X1: 4, X2: 4, Y1: 0, Y2: 8, Z1: 0, Z2: 8}, 1)

	_, _, _, _, err := RoiAlignIntersect(vol, vol, vol, vol, good, bad)
	assert.Error(t, err)
}

func TestRoiAlignIntersectGradientFlows(t *testing.T) {
	shape := []int{1, 1, 2, 2, 2}
	p1 := randomVolume(t, shape, 18)
	p1.SetRequiresGrad(true)
	p2 := randomVolume(t, shape, 19)
	g1 := randomVolume(t, shape, 20)
	g2 := randomVolume(t, shape, 21)

	b1 := repeatBox(Box{X1: 0, X2: 8, Y1: 0, Y2: 8, Z1: 0, Z2: 8}, 1)
	b2 := repeatBox(Box{X1: 4, X2: 12, Y1: 0, Y2: 8, Z1: 0, Z2: 8}, 1)

	r1, _, _, _, err := RoiAlignIntersect(p1, p2, g1, g2, b1, b2)
	require.NoError(t, err)

	total, err := tensor.MeanAllAutograd(r1)
	require.NoError(t, err)
	require.NoError(t, tensor.Backward(total))
	require.NotNil(t, p1.Grad(), "gradient should reach the first prediction")
	assert.Nil(t, g1.Grad(), "targets should stay outside the graph")
}
