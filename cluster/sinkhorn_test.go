package cluster

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joangog/radioSSL/tensor"
)

func randomScores(t *testing.T, k, m int, seed int64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, k*m)
	for i := range data {
		data[i] = float32(math.Exp(rng.NormFloat64()))
	}
	scores, err := tensor.NewTensor([]int{k, m}, tensor.Float32, data)
	require.NoError(t, err)
	return scores
}

func TestSinkhornRowsSumToOne(t *testing.T) {
	const k, m = 5, 12
	scores := randomScores(t, k, m, 7)

	q, err := Sinkhorn(scores, 3)
	require.NoError(t, err)
	require.Equal(t, []int{m, k}, q.Shape)

	data, err := q.GetFloat32Data()
	require.NoError(t, err)
	for i := 0; i < m; i++ {
		var sum float64
		for j := 0; j < k; j++ {
			v := float64(data[i*k+j])
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", i)
	}
}

func TestSinkhornUniformInputStaysUniform(t *testing.T) {
	const k, m = 4, 8
	scores, err := tensor.Full([]int{k, m}, 1)
	require.NoError(t, err)

	q, err := Sinkhorn(scores, 3)
	require.NoError(t, err)

	data, err := q.GetFloat32Data()
	require.NoError(t, err)
	for i, v := range data {
		assert.InDelta(t, 1.0/float64(k), float64(v), 1e-6, "entry %d", i)
	}
}

func TestSinkhornBalancesColumnMass(t *testing.T) {
	const k, m = 3, 9
	scores := randomScores(t, k, m, 42)

	q, err := Sinkhorn(scores, 3)
	require.NoError(t, err)

	// After balancing, each prototype should carry roughly m/k total mass.
	data, err := q.GetFloat32Data()
	require.NoError(t, err)
	for j := 0; j < k; j++ {
		var mass float64
		for i := 0; i < m; i++ {
			mass += float64(data[i*k+j])
		}
		assert.InDelta(t, float64(m)/float64(k), mass, 0.5, "prototype %d", j)
	}
}

func TestSinkhornDoesNotMutateInput(t *testing.T) {
	scores := randomScores(t, 4, 6, 3)
	before, err := scores.Clone()
	require.NoError(t, err)

	_, err = Sinkhorn(scores, 3)
	require.NoError(t, err)
	assert.True(t, scores.Equal(before), "input scores were mutated")
}

func TestSinkhornDegenerateInput(t *testing.T) {
	zeros, err := tensor.Zeros([]int{3, 4}, tensor.Float32)
	require.NoError(t, err)
	_, err = Sinkhorn(zeros, 3)
	assert.Error(t, err)

	inf, err := tensor.Full([]int{3, 4}, float32(math.Inf(1)))
	require.NoError(t, err)
	_, err = Sinkhorn(inf, 3)
	assert.Error(t, err)
}

func TestSinkhornRejectsBadArgs(t *testing.T) {
	scores := randomScores(t, 2, 2, 1)
	_, err := Sinkhorn(scores, 0)
	assert.Error(t, err)

	vec, err := tensor.Full([]int{4}, 1)
	require.NoError(t, err)
	_, err = Sinkhorn(vec, 3)
	assert.Error(t, err)
}

func TestNormalizeRows(t *testing.T) {
	m, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{3, 4, 0, 0})
	require.NoError(t, err)

	normed, err := NormalizeRows(m)
	require.NoError(t, err)
	data, err := normed.GetFloat32Data()
	require.NoError(t, err)

	assert.InDelta(t, 0.6, float64(data[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(data[1]), 1e-6)
	// Zero rows stay zero rather than dividing by zero.
	assert.Zero(t, data[2])
	assert.Zero(t, data[3])
}
