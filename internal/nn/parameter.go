// Package nn provides neural-network building blocks for the flowgen
// framework: trainable parameters, initializers, activations and the
// weight-normalized convolution used by coupling networks.
package nn

import (
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Parameter represents a trainable parameter.
//
// Parameters are tensors owned by a module. Flow passes read them;
// mutation happens only between passes (data-dependent initialization or an
// external optimizer step).
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// SetTensor replaces the parameter tensor. Used when restoring persisted
// state; the shape must match the current tensor.
func (p *Parameter[B]) SetTensor(t *tensor.Tensor[float32, B]) {
	if !p.tensor.Shape().Equal(t.Shape()) {
		panic("parameter: shape mismatch on SetTensor: " + p.name)
	}
	p.tensor = t
}
