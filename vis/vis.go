// Package vis renders cluster assignment masks and training curves for a
// pretraining run.
package vis

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/joangog/radioSSL/tensor"
)

// Palette assigns a fixed color to every cluster id. Built once per run
// and passed explicitly to whatever renders masks.
type Palette []color.RGBA

// NewPalette spreads k fully saturated hues around the color wheel.
func NewPalette(k int) Palette {
	p := make(Palette, k)
	for i := range p {
		p[i] = hsv(float64(i)/float64(k), 0.85, 0.95)
	}
	return p
}

// Color returns the color for a cluster id, black when out of range.
func (p Palette) Color(id int) color.RGBA {
	if id < 0 || id >= len(p) {
		return color.RGBA{A: 0xff}
	}
	return p[id]
}

func hsv(h, s, v float64) color.RGBA {
	i := int(h*6) % 6
	f := h*6 - math.Floor(h*6)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	var r, g, b float64
	switch i {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}

// MaskSlice renders the mid-depth slice of a (K, H, W, D) soft assignment
// as a colored image, taking the hard assignment per voxel.
func MaskSlice(pred *tensor.Tensor, palette Palette) (image.Image, error) {
	if len(pred.Shape) != 4 {
		return nil, errors.Errorf("expected a (K, H, W, D) tensor, got shape %v", pred.Shape)
	}
	k, h, w, d := pred.Shape[0], pred.Shape[1], pred.Shape[2], pred.Shape[3]
	data, err := pred.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	slice := d / 2
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			best := 0
			bestVal := float32(math.Inf(-1))
			for c := 0; c < k; c++ {
				v := data[c*pred.Strides[0]+i*pred.Strides[1]+j*pred.Strides[2]+slice]
				if v > bestVal {
					bestVal = v
					best = c
				}
			}
			img.SetRGBA(j, i, palette.Color(best))
		}
	}
	return img, nil
}

// GraySlice renders the mid-depth slice of a (H, W, D) volume min-max
// normalized to grayscale.
func GraySlice(x *tensor.Tensor) (image.Image, error) {
	if len(x.Shape) != 3 {
		return nil, errors.Errorf("expected a (H, W, D) tensor, got shape %v", x.Shape)
	}
	h, w, d := x.Shape[0], x.Shape[1], x.Shape[2]
	data, err := x.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	slice := d / 2
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := data[i*x.Strides[0]+j*x.Strides[1]+slice]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := data[i*x.Strides[0]+j*x.Strides[1]+slice]
			g := uint8((v - lo) / span * 255)
			img.SetRGBA(j, i, color.RGBA{R: g, G: g, B: g, A: 0xff})
		}
	}
	return img, nil
}

// GridWriter accumulates rows of images across epochs and writes them as a
// single PNG grid, one row per call to AddRow. Cells are upscaled to a
// common size with nearest-neighbor sampling so cluster boundaries stay
// crisp.
type GridWriter struct {
	cellW, cellH int
	rows         [][]image.Image
}

// NewGridWriter creates a grid with the given cell size in pixels.
func NewGridWriter(cellW, cellH int) *GridWriter {
	return &GridWriter{cellW: cellW, cellH: cellH}
}

// AddRow appends one row of cells to the grid.
func (g *GridWriter) AddRow(images []image.Image) {
	g.rows = append(g.rows, images)
}

// WritePNG renders the accumulated grid to path.
func (g *GridWriter) WritePNG(path string) error {
	if len(g.rows) == 0 {
		return errors.New("grid is empty")
	}
	cols := 0
	for _, row := range g.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, cols*g.cellW, len(g.rows)*g.cellH))
	for r, row := range g.rows {
		for c, cell := range row {
			rect := image.Rect(c*g.cellW, r*g.cellH, (c+1)*g.cellW, (r+1)*g.cellH)
			draw.NearestNeighbor.Scale(out, rect, cell, cell.Bounds(), draw.Src, nil)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating grid directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	if err := png.Encode(f, out); err != nil {
		return errors.Wrap(err, "encoding grid")
	}
	return nil
}
