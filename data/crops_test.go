package data

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCropPair(t *testing.T, dir, name string, withLabels bool) {
	t.Helper()
	crop := make([]float32, 1*2*2*2)
	for i := range crop {
		crop[i] = float32(i)
	}
	writeNpy(t, filepath.Join(dir, name+"_crop1.npy"), "<f4", []int{1, 2, 2, 2}, crop)
	writeNpy(t, filepath.Join(dir, name+"_crop2.npy"), "<f4", []int{1, 2, 2, 2}, crop)
	boxes := []float32{
		0, 16, 0, 16, 0, 16,
		8, 24, 8, 24, 8, 24,
	}
	writeNpy(t, filepath.Join(dir, name+"_boxes.npy"), "<f4", []int{2, 6}, boxes)
	if withLabels {
		ids := make([]int32, 8)
		writeNpy(t, filepath.Join(dir, name+"_labels1.npy"), "<i4", []int{2, 2, 2}, ids)
		writeNpy(t, filepath.Join(dir, name+"_labels2.npy"), "<i4", []int{2, 2, 2}, ids)
	}
}

func TestCropDatasetScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeCropPair(t, dir, "scan_b", false)
	writeCropPair(t, dir, "scan_a", true)

	ds, err := NewCropDataset(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"scan_a", "scan_b"}, ds.Names())
}

func TestCropDatasetGet(t *testing.T) {
	dir := t.TempDir()
	writeCropPair(t, dir, "scan_a", true)
	writeCropPair(t, dir, "scan_b", false)

	ds, err := NewCropDataset(dir, nil)
	require.NoError(t, err)

	s, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, s.Crop1.Shape)
	assert.Equal(t, 0.0, s.Box1.X1)
	assert.Equal(t, 16.0, s.Box1.X2)
	assert.Equal(t, 8.0, s.Box2.Z1)
	require.NotNil(t, s.Labels1)
	assert.Equal(t, []int{2, 2, 2}, s.Labels1.Shape)

	s, err = ds.Get(1)
	require.NoError(t, err)
	assert.Nil(t, s.Labels1)
	assert.Nil(t, s.Labels2)

	_, err = ds.Get(2)
	assert.ErrorContains(t, err, "out of range")
}

func TestCropDatasetExplicitNames(t *testing.T) {
	dir := t.TempDir()
	writeCropPair(t, dir, "scan_a", false)
	writeCropPair(t, dir, "scan_b", false)

	ds, err := NewCropDataset(dir, []string{"scan_b"})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	s, err := ds.Get(0)
	require.NoError(t, err)
	assert.NotNil(t, s.Crop2)
}

func TestCropDatasetErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewCropDataset(dir, nil)
	assert.ErrorContains(t, err, "no crop pairs")

	ds, err := NewCropDataset(dir, []string{"ghost"})
	require.NoError(t, err)
	_, err = ds.Get(0)
	assert.Error(t, err)

	writeNpy(t, filepath.Join(dir, "bad_crop1.npy"), "<f4", []int{1, 2, 2, 2}, make([]float32, 8))
	writeNpy(t, filepath.Join(dir, "bad_crop2.npy"), "<f4", []int{1, 2, 2, 2}, make([]float32, 8))
	writeNpy(t, filepath.Join(dir, "bad_boxes.npy"), "<f4", []int{6}, make([]float32, 6))
	ds, err = NewCropDataset(dir, []string{"bad"})
	require.NoError(t, err)
	_, err = ds.Get(0)
	assert.ErrorContains(t, err, "box array")
}
