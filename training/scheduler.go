package training

import (
	"fmt"
	"math"
)

// LRScheduler maps an epoch index to a learning rate.
type LRScheduler interface {
	LearningRate(epoch int) float64
}

// ConstantLR keeps the learning rate fixed for the whole run.
type ConstantLR struct {
	lr float64
}

func NewConstantLR(lr float64) (*ConstantLR, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	return &ConstantLR{lr: lr}, nil
}

func (s *ConstantLR) LearningRate(int) float64 { return s.lr }

// CosineAnnealingLR decays the learning rate along a half cosine from the
// base rate at epoch 0 toward zero at the final epoch.
type CosineAnnealingLR struct {
	base   float64
	epochs int
}

func NewCosineAnnealingLR(base float64, epochs int) (*CosineAnnealingLR, error) {
	if base <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %g", base)
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("epoch count must be positive, got %d", epochs)
	}
	return &CosineAnnealingLR{base: base, epochs: epochs}, nil
}

func (s *CosineAnnealingLR) LearningRate(epoch int) float64 {
	return s.base * 0.5 * (1 + math.Cos(math.Pi*float64(epoch)/float64(s.epochs)))
}
