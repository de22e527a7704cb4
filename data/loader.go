// Package data provides the pretraining dataset contract, mini-batch
// loading, and dataset list helpers.
package data

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/joangog/radioSSL/cluster"
	"github.com/joangog/radioSSL/tensor"
)

// Sample is one training example: two overlapping crops of the same
// volume resized to the common input extent, their bounding boxes in
// source-volume coordinates, and optional precomputed voxel cluster labels.
type Sample struct {
	Crop1, Crop2 *tensor.Tensor // (C, H, W, D) float32
	Box1, Box2   cluster.Box

	// Labels hold per-voxel cluster ids (H, W, D) as Int32. Nil when the
	// task derives its own targets online.
	Labels1, Labels2 *tensor.Tensor
}

// Dataset is a random-access collection of samples.
type Dataset interface {
	Len() int
	Get(i int) (*Sample, error)
}

// Batch is a collated mini-batch. Labels are nil when the dataset carries
// none.
type Batch struct {
	Crop1, Crop2     *tensor.Tensor // (B, C, H, W, D)
	Boxes1, Boxes2   []cluster.Box
	Labels1, Labels2 *tensor.Tensor // (B, H, W, D) Int32
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Boxes1) }

// DataLoader iterates a dataset in mini-batches, optionally reshuffling
// the sample order each epoch from an explicit random source. Safe for
// concurrent Next calls.
type DataLoader struct {
	mu        sync.Mutex
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	pos       int
}

// NewDataLoader wraps a dataset. rng may be nil when shuffle is false.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, errors.New("shuffling requires a random source")
	}
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	dl.resetLocked()
	return dl, nil
}

// NumBatches returns the batches per epoch; the last batch may be short.
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// HasNext reports whether the current epoch has batches left.
func (dl *DataLoader) HasNext() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.pos < len(dl.indices)
}

// Reset rewinds to the start of a new epoch and reshuffles if enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.resetLocked()
}

func (dl *DataLoader) resetLocked() {
	dl.pos = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next collates the next mini-batch. Returns an error when the epoch is
// exhausted; call Reset to start the next one.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.pos >= len(dl.indices) {
		return nil, errors.New("epoch exhausted")
	}
	end := dl.pos + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	idx := dl.indices[dl.pos:end]
	dl.pos = end

	samples := make([]*Sample, len(idx))
	for i, j := range idx {
		s, err := dl.dataset.Get(j)
		if err != nil {
			return nil, errors.Wrapf(err, "loading sample %d", j)
		}
		samples[i] = s
	}
	return collate(samples)
}

func collate(samples []*Sample) (*Batch, error) {
	first := samples[0]
	batch := &Batch{
		Boxes1: make([]cluster.Box, len(samples)),
		Boxes2: make([]cluster.Box, len(samples)),
	}

	var err error
	batch.Crop1, err = stackFloat(samples, func(s *Sample) *tensor.Tensor { return s.Crop1 })
	if err != nil {
		return nil, errors.Wrap(err, "collating first crops")
	}
	batch.Crop2, err = stackFloat(samples, func(s *Sample) *tensor.Tensor { return s.Crop2 })
	if err != nil {
		return nil, errors.Wrap(err, "collating second crops")
	}
	for i, s := range samples {
		batch.Boxes1[i] = s.Box1
		batch.Boxes2[i] = s.Box2
	}

	if first.Labels1 != nil {
		batch.Labels1, err = stackInt(samples, func(s *Sample) *tensor.Tensor { return s.Labels1 })
		if err != nil {
			return nil, errors.Wrap(err, "collating first labels")
		}
		batch.Labels2, err = stackInt(samples, func(s *Sample) *tensor.Tensor { return s.Labels2 })
		if err != nil {
			return nil, errors.Wrap(err, "collating second labels")
		}
	}
	return batch, nil
}

func stackFloat(samples []*Sample, pick func(*Sample) *tensor.Tensor) (*tensor.Tensor, error) {
	ref := pick(samples[0])
	if ref == nil {
		return nil, errors.New("missing tensor in sample")
	}
	shape := append([]int{len(samples)}, ref.Shape...)
	out, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	dst := out.Data.([]float32)
	for i, s := range samples {
		t := pick(s)
		if t == nil || !tensor.ShapesEqual(t.Shape, ref.Shape) {
			return nil, errors.Errorf("sample %d tensor does not match shape %v", i, ref.Shape)
		}
		src, err := t.GetFloat32Data()
		if err != nil {
			return nil, err
		}
		copy(dst[i*ref.Numel():], src)
	}
	return out, nil
}

func stackInt(samples []*Sample, pick func(*Sample) *tensor.Tensor) (*tensor.Tensor, error) {
	ref := pick(samples[0])
	if ref == nil {
		return nil, errors.New("missing label tensor in sample")
	}
	shape := append([]int{len(samples)}, ref.Shape...)
	out, err := tensor.Zeros(shape, tensor.Int32)
	if err != nil {
		return nil, err
	}
	dst := out.Data.([]int32)
	for i, s := range samples {
		t := pick(s)
		if t == nil || !tensor.ShapesEqual(t.Shape, ref.Shape) {
			return nil, errors.Errorf("sample %d labels do not match shape %v", i, ref.Shape)
		}
		src, err := t.GetInt32Data()
		if err != nil {
			return nil, err
		}
		copy(dst[i*ref.Numel():], src)
	}
	return out, nil
}
