package data

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joangog/radioSSL/cluster"
	"github.com/joangog/radioSSL/tensor"
)

// memDataset serves synthetic samples whose first voxel encodes the sample
// index, so tests can recover the visit order from collated batches.
type memDataset struct {
	n        int
	labelled bool
	badShape int
}

func (d *memDataset) Len() int { return d.n }

func (d *memDataset) Get(i int) (*Sample, error) {
	shape := []int{1, 2, 2, 2}
	if i == d.badShape && d.badShape > 0 {
		shape = []int{1, 2, 2, 3}
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	vals := make([]float32, n)
	vals[0] = float32(i)
	crop1, err := tensor.NewTensor(shape, tensor.Float32, vals)
	if err != nil {
		return nil, err
	}
	crop2, err := tensor.NewTensor(shape, tensor.Float32, append([]float32(nil), vals...))
	if err != nil {
		return nil, err
	}
	s := &Sample{
		Crop1: crop1, Crop2: crop2,
		Box1: cluster.Box{X1: 0, X2: 1, Y1: 0, Y2: 1, Z1: 0, Z2: 1},
		Box2: cluster.Box{X1: 0, X2: 1, Y1: 0, Y2: 1, Z1: 0, Z2: 1},
	}
	if d.labelled {
		ids := make([]int32, 8)
		for j := range ids {
			ids[j] = int32(i)
		}
		if s.Labels1, err = tensor.NewTensor([]int{2, 2, 2}, tensor.Int32, ids); err != nil {
			return nil, err
		}
		if s.Labels2, err = tensor.NewTensor([]int{2, 2, 2}, tensor.Int32, append([]int32(nil), ids...)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func firstVoxels(t *testing.T, b *Batch) []float32 {
	t.Helper()
	data, err := b.Crop1.GetFloat32Data()
	require.NoError(t, err)
	stride := b.Crop1.Numel() / b.Size()
	out := make([]float32, b.Size())
	for i := range out {
		out[i] = data[i*stride]
	}
	return out
}

func TestDataLoaderBatchesInOrder(t *testing.T) {
	dl, err := NewDataLoader(&memDataset{n: 5}, 2, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, dl.NumBatches())

	var seen []float32
	sizes := []int{}
	for dl.HasNext() {
		b, err := dl.Next()
		require.NoError(t, err)
		assert.Equal(t, []int{b.Size(), 1, 2, 2, 2}, b.Crop1.Shape)
		assert.Nil(t, b.Labels1)
		seen = append(seen, firstVoxels(t, b)...)
		sizes = append(sizes, b.Size())
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []float32{0, 1, 2, 3, 4}, seen)

	_, err = dl.Next()
	assert.ErrorContains(t, err, "exhausted")
}

func TestDataLoaderShuffleIsSeedDeterministic(t *testing.T) {
	order := func(seed int64) []float32 {
		dl, err := NewDataLoader(&memDataset{n: 8}, 3, true, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		var seen []float32
		for dl.HasNext() {
			b, err := dl.Next()
			require.NoError(t, err)
			seen = append(seen, firstVoxels(t, b)...)
		}
		return seen
	}

	assert.Equal(t, order(11), order(11))
	assert.NotEqual(t, order(11), order(12))
}

func TestDataLoaderResetStartsNewEpoch(t *testing.T) {
	dl, err := NewDataLoader(&memDataset{n: 4}, 4, false, nil)
	require.NoError(t, err)

	_, err = dl.Next()
	require.NoError(t, err)
	assert.False(t, dl.HasNext())

	dl.Reset()
	assert.True(t, dl.HasNext())
	b, err := dl.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, b.Size())
}

func TestDataLoaderCollatesLabels(t *testing.T) {
	dl, err := NewDataLoader(&memDataset{n: 2, labelled: true}, 2, false, nil)
	require.NoError(t, err)

	b, err := dl.Next()
	require.NoError(t, err)
	require.NotNil(t, b.Labels1)
	assert.Equal(t, []int{2, 2, 2, 2}, b.Labels1.Shape)

	ids, err := b.Labels2.GetInt32Data()
	require.NoError(t, err)
	assert.Equal(t, int32(0), ids[0])
	assert.Equal(t, int32(1), ids[8])
}

func TestDataLoaderRejectsMismatchedShapes(t *testing.T) {
	dl, err := NewDataLoader(&memDataset{n: 3, badShape: 1}, 3, false, nil)
	require.NoError(t, err)

	_, err = dl.Next()
	assert.ErrorContains(t, err, "does not match shape")
}

func TestNewDataLoaderValidation(t *testing.T) {
	_, err := NewDataLoader(&memDataset{n: 0}, 2, false, nil)
	assert.Error(t, err)

	_, err = NewDataLoader(&memDataset{n: 3}, 0, false, nil)
	assert.Error(t, err)

	_, err = NewDataLoader(&memDataset{n: 3}, 2, true, nil)
	assert.ErrorContains(t, err, "random source")
}
