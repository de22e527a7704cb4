// Package optimizer provides gradient descent over named tensor parameters.
package optimizer

import (
	"fmt"

	"github.com/joangog/radioSSL/model"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step() error

	// ZeroGrad clears the gradients of every parameter.
	ZeroGrad()

	// SetLearningRate changes the step size for subsequent updates.
	SetLearningRate(lr float64)

	// GetLearningRate returns the current step size.
	GetLearningRate() float64

	// GetState exports internal buffers for checkpointing.
	GetState() map[string][]float32

	// LoadState restores internal buffers from a checkpoint.
	LoadState(state map[string][]float32) error
}

// SGDConfig holds hyperparameters for stochastic gradient descent.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
}

// DefaultSGDConfig mirrors the pretraining defaults.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 1e-3,
		Momentum:     0.9,
		WeightDecay:  1e-4,
	}
}

func validateSGDConfig(cfg SGDConfig) error {
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1), got %g", cfg.Momentum)
	}
	if cfg.WeightDecay < 0 {
		return fmt.Errorf("weight decay must be non-negative, got %g", cfg.WeightDecay)
	}
	return nil
}

// SGD implements stochastic gradient descent with momentum and L2 weight
// decay over a fixed parameter list.
type SGD struct {
	params   []model.Parameter
	cfg      SGDConfig
	momentum map[string][]float32
}

// NewSGD creates an optimizer over the given parameters.
func NewSGD(params []model.Parameter, cfg SGDConfig) (*SGD, error) {
	if err := validateSGDConfig(cfg); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters to optimize")
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Tensor == nil {
			return nil, fmt.Errorf("parameter %q has no tensor", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &SGD{
		params:   params,
		cfg:      cfg,
		momentum: make(map[string][]float32, len(params)),
	}, nil
}

// Step applies v = mu*v + (g + wd*w); w -= lr*v to every parameter that has
// a gradient. Parameters without gradients are skipped.
func (o *SGD) Step() error {
	lr := float32(o.cfg.LearningRate)
	mu := float32(o.cfg.Momentum)
	wd := float32(o.cfg.WeightDecay)

	for _, p := range o.params {
		grad := p.Tensor.Grad()
		if grad == nil {
			continue
		}
		w, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q: %v", p.Name, err)
		}
		g, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q gradient: %v", p.Name, err)
		}
		if len(w) != len(g) {
			return fmt.Errorf("parameter %q: gradient size %d does not match %d", p.Name, len(g), len(w))
		}

		buf, ok := o.momentum[p.Name]
		if !ok {
			buf = make([]float32, len(w))
			o.momentum[p.Name] = buf
		}
		for i := range w {
			gi := g[i] + wd*w[i]
			buf[i] = mu*buf[i] + gi
			w[i] -= lr * buf[i]
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.Tensor.ClearGrad()
	}
}

func (o *SGD) SetLearningRate(lr float64) { o.cfg.LearningRate = lr }
func (o *SGD) GetLearningRate() float64   { return o.cfg.LearningRate }

// GetState exports the momentum buffers keyed by parameter name.
func (o *SGD) GetState() map[string][]float32 {
	state := make(map[string][]float32, len(o.momentum))
	for name, buf := range o.momentum {
		state[name] = append([]float32(nil), buf...)
	}
	return state
}

// LoadState restores momentum buffers. Names missing from state start cold;
// unknown names are rejected.
func (o *SGD) LoadState(state map[string][]float32) error {
	known := make(map[string]int, len(o.params))
	for _, p := range o.params {
		known[p.Name] = p.Tensor.Numel()
	}
	for name, buf := range state {
		n, ok := known[name]
		if !ok {
			return fmt.Errorf("state holds unknown parameter %q", name)
		}
		if len(buf) != n {
			return fmt.Errorf("state for %q has %d values, parameter has %d", name, len(buf), n)
		}
		o.momentum[name] = append([]float32(nil), buf...)
	}
	return nil
}
