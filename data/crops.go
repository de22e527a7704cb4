package data

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/joangog/radioSSL/cluster"
	"github.com/joangog/radioSSL/tensor"
)

// CropDataset reads preprocessed crop pairs from disk. Each scan <name>
// contributes:
//
//	<name>_crop1.npy, <name>_crop2.npy   (C, H, W, D) float32 crops
//	<name>_boxes.npy                     (2, 6) float32 crop boxes,
//	                                     rows [x1 x2 y1 y2 z1 z2]
//	<name>_labels1.npy, <name>_labels2.npy  optional (H, W, D) int32
//	                                     voxel cluster ids
type CropDataset struct {
	dir   string
	names []string
}

// NewCropDataset scans dir for crop pairs. names restricts the dataset to
// the given scans; pass nil to take every pair found.
func NewCropDataset(dir string, names []string) (*CropDataset, error) {
	if names == nil {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", dir)
		}
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), "_crop1.npy") {
				names = append(names, strings.TrimSuffix(e.Name(), "_crop1.npy"))
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no crop pairs found in %s", dir)
	}
	return &CropDataset{dir: dir, names: names}, nil
}

func (d *CropDataset) Len() int { return len(d.names) }

// Names returns the scan names backing the dataset.
func (d *CropDataset) Names() []string { return d.names }

func (d *CropDataset) Get(i int) (*Sample, error) {
	if i < 0 || i >= len(d.names) {
		return nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(d.names))
	}
	name := d.names[i]

	crop1, err := ReadNpy(d.path(name, "crop1"))
	if err != nil {
		return nil, err
	}
	crop2, err := ReadNpy(d.path(name, "crop2"))
	if err != nil {
		return nil, err
	}
	boxes, err := ReadNpy(d.path(name, "boxes"))
	if err != nil {
		return nil, err
	}
	box1, box2, err := parseBoxes(boxes)
	if err != nil {
		return nil, errors.Wrapf(err, "boxes for %s", name)
	}

	sample := &Sample{Crop1: crop1, Crop2: crop2, Box1: box1, Box2: box2}

	labelPath := d.path(name, "labels1")
	if _, err := os.Stat(labelPath); err == nil {
		if sample.Labels1, err = ReadNpy(labelPath); err != nil {
			return nil, err
		}
		if sample.Labels2, err = ReadNpy(d.path(name, "labels2")); err != nil {
			return nil, err
		}
	}
	return sample, nil
}

func (d *CropDataset) path(name, part string) string {
	return filepath.Join(d.dir, name+"_"+part+".npy")
}

func parseBoxes(t *tensor.Tensor) (cluster.Box, cluster.Box, error) {
	var zero cluster.Box
	if len(t.Shape) != 2 || t.Shape[0] != 2 || t.Shape[1] != 6 {
		return zero, zero, errors.Errorf("expected a (2, 6) box array, got shape %v", t.Shape)
	}
	data, err := t.GetFloat32Data()
	if err != nil {
		return zero, zero, err
	}
	box := func(row []float32) cluster.Box {
		return cluster.Box{
			X1: float64(row[0]), X2: float64(row[1]),
			Y1: float64(row[2]), Y2: float64(row[3]),
			Z1: float64(row[4]), Z2: float64(row[5]),
		}
	}
	return box(data[:6]), box(data[6:]), nil
}
