package vis

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joangog/radioSSL/tensor"
)

func TestNewPaletteColorsAreDistinct(t *testing.T) {
	p := NewPalette(10)
	require.Len(t, p, 10)

	seen := make(map[[3]uint8]bool)
	for _, c := range p {
		key := [3]uint8{c.R, c.G, c.B}
		assert.False(t, seen[key], "duplicate color %v", c)
		seen[key] = true
		assert.Equal(t, uint8(0xff), c.A)
	}
}

func TestPaletteColorOutOfRangeIsBlack(t *testing.T) {
	p := NewPalette(3)
	black := p.Color(-1)
	assert.Equal(t, uint8(0), black.R)
	assert.Equal(t, uint8(0), black.G)
	assert.Equal(t, uint8(0), black.B)
	assert.Equal(t, black, p.Color(3))
	assert.NotEqual(t, black, p.Color(0))
}

func TestMaskSlicePicksArgmaxCluster(t *testing.T) {
	// (K=2, H=1, W=2, D=1): voxel 0 prefers cluster 1, voxel 1 cluster 0.
	pred, err := tensor.NewTensor([]int{2, 1, 2, 1}, tensor.Float32,
		[]float32{0.1, 0.9, 0.8, 0.2})
	require.NoError(t, err)

	p := NewPalette(2)
	img, err := MaskSlice(pred, p)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())

	r0, g0, b0, _ := img.At(0, 0).RGBA()
	c1 := p.Color(1)
	assert.Equal(t, uint32(c1.R)*0x101, r0)
	assert.Equal(t, uint32(c1.G)*0x101, g0)
	assert.Equal(t, uint32(c1.B)*0x101, b0)

	r1, _, _, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(p.Color(0).R)*0x101, r1)

	bad, err := tensor.Zeros([]int{2, 2}, tensor.Float32)
	require.NoError(t, err)
	_, err = MaskSlice(bad, p)
	assert.Error(t, err)
}

func TestGraySliceNormalizesRange(t *testing.T) {
	// (H=1, W=2, D=1): min maps to 0, max to 255.
	x, err := tensor.NewTensor([]int{1, 2, 1}, tensor.Float32, []float32{-100, 300})
	require.NoError(t, err)

	img, err := GraySlice(x)
	require.NoError(t, err)

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)

	r, _, _, _ = img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestGraySliceConstantVolume(t *testing.T) {
	x, err := tensor.Full([]int{2, 2, 2}, 5)
	require.NoError(t, err)

	img, err := GraySlice(x)
	require.NoError(t, err)
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
}

func TestGridWriterWritesPNG(t *testing.T) {
	g := NewGridWriter(8, 8)

	cell := image.NewRGBA(image.Rect(0, 0, 2, 2))
	g.AddRow([]image.Image{cell, cell, cell})
	g.AddRow([]image.Image{cell})

	path := filepath.Join(t.TempDir(), "grids", "pred_grid.png")
	require.NoError(t, g.WritePNG(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 16), img.Bounds())
}

func TestGridWriterEmpty(t *testing.T) {
	g := NewGridWriter(8, 8)
	err := g.WritePNG(filepath.Join(t.TempDir(), "empty.png"))
	assert.ErrorContains(t, err, "empty")
}

func TestRunLogAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scalars.csv")
	log, err := NewRunLog(path, []string{"cluster_loss", "total_loss", "lr"})
	require.NoError(t, err)

	require.NoError(t, log.Append(0, []float64{1.5, 2.5, 0.001}))
	require.NoError(t, log.Append(1, []float64{1.25, 2.25, 0.0009}))

	err = log.Append(2, []float64{1})
	assert.ErrorContains(t, err, "expected 3 values")

	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"epoch,cluster_loss,total_loss,lr\n0,1.5,2.5,0.001\n1,1.25,2.25,0.0009\n",
		string(raw))
}
