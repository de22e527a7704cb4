// Package model defines the contracts between the pretraining loop and the
// networks it drives, together with small reference projectors used to
// exercise the loop end to end. Production backbones plug in through the
// same interfaces.
package model

import (
	"github.com/joangog/radioSSL/tensor"
)

// Parameter is a named trainable tensor. Names key the checkpoint state
// dict; slice order is the optimizer's parameter order.
type Parameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Model is the minimal trainable surface shared by every network.
type Model interface {
	// Parameters returns the trainable tensors in a stable order.
	Parameters() []Parameter
}

// VoxelModel maps a batch of crops to per-voxel cluster logits.
type VoxelModel interface {
	Model

	// Predict maps (B, C, H, W, D) input to (B, K, H, W, D) cluster logits.
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)

	// ClusterCount returns K, the number of clusters.
	ClusterCount() int
}

// PatchModel maps a batch of crops to patch embeddings and their prototype
// similarity scores.
type PatchModel interface {
	Model

	// Predict maps (B, C, H, W, D) input to embeddings (B, N, D) and
	// prototype logits (B, N, K), where N is the number of patches.
	Predict(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)

	// Prototypes returns the (K, D) prototype matrix.
	Prototypes() *tensor.Tensor

	// PatchSize returns the cubic patch edge length P.
	PatchSize() int

	// ClusterCount returns K, the number of prototypes.
	ClusterCount() int
}
