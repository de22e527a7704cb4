// Package checkpoints saves and restores training runs as JSON files.
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/joangog/radioSSL/config"
	"github.com/joangog/radioSSL/model"
)

// ParamState is one serialized parameter tensor.
type ParamState struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Checkpoint captures everything needed to resume a run: the configuration
// it was started with, the model weights, the optimizer buffers, and the
// last completed epoch.
type Checkpoint struct {
	Opt       config.Config         `json:"opt"`
	StateDict map[string]ParamState `json:"state_dict"`
	Optimizer map[string][]float32  `json:"optimizer"`
	Epoch     int                   `json:"epoch"`
}

// CaptureState snapshots the current parameter values. Every parameter
// must expose float32 data; a checkpoint missing a parameter could not be
// restored.
func CaptureState(params []model.Parameter) (map[string]ParamState, error) {
	state := make(map[string]ParamState, len(params))
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %q", p.Name)
		}
		state[p.Name] = ParamState{
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  append([]float32(nil), data...),
		}
	}
	return state, nil
}

// RestoreState writes checkpointed values back into the parameters. Every
// parameter must be present with a matching shape.
func RestoreState(params []model.Parameter, state map[string]ParamState) error {
	for _, p := range params {
		ps, ok := state[p.Name]
		if !ok {
			return errors.Errorf("checkpoint is missing parameter %q", p.Name)
		}
		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %q", p.Name)
		}
		if len(ps.Data) != len(dst) {
			return errors.Errorf("parameter %q: checkpoint has %d values, tensor has %d",
				p.Name, len(ps.Data), len(dst))
		}
		copy(dst, ps.Data)
	}
	return nil
}

// Save writes the checkpoint atomically via a temp file in the same
// directory.
func Save(path string, ckpt *Checkpoint) error {
	raw, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return errors.Wrap(err, "creating temp checkpoint")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "renaming checkpoint to %s", path)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %s", path)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(raw, &ckpt); err != nil {
		return nil, errors.Wrapf(err, "parsing checkpoint %s", path)
	}
	return &ckpt, nil
}
