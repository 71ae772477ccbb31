// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package flows implements invertible normalizing-flow transforms: the NICE
// affine coupling, the invertible 1x1 channel mixing, and the multi-scale
// Glow composer built from them.
//
// Every transform implements the Flow interface: a forward and a backward
// direction that are exact inverses of each other, each returning the
// transformed tensor together with a per-example log-determinant of the
// Jacobian, plus a data-dependent initialization pass that shares the
// forward traversal.
package flows

import (
	"github.com/flowgen-ml/flowgen/internal/nn"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Flow is the capability shared by every transform and composite.
//
// Forward and Backward are exact inverses: backward(forward(x)) == x up to
// floating-point error, and their log-determinants are exact negations.
// The optional conditioning tensor h may be nil.
//
// The inverse flag fixes which direction plays "encode" versus "decode" for
// a generative model; it never changes what Forward and Backward compute.
type Flow[B tensor.Backend] interface {
	// Forward applies the transform, returning the output and the
	// per-example log-determinant of the Jacobian, shape [batch].
	Forward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B])

	// Backward applies the exact inverse of Forward. The returned logdet is
	// the negation of the one Forward would report for the round trip.
	Backward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B])

	// Init mirrors Forward structurally but calibrates learned parameters
	// from the data before applying the transform. initScale threads down to
	// every weight-normalized sub-network.
	Init(x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B])

	// Inverse reports whether the flow is configured in generative
	// ("inverse") mode, where Forward consumes data and Backward maps
	// latent codes back to data.
	Inverse() bool

	// Parameters returns all trainable parameters in construction order.
	Parameters() []*nn.Parameter[B]
}

// FwdPass runs f in the data-generation direction. An inverse-mode flow
// consumes data with Forward, so generation is its Backward.
func FwdPass[B tensor.Backend](f Flow[B], z, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	if f.Inverse() {
		return f.Backward(z, h)
	}
	return f.Forward(z, h)
}

// BwdPass runs f in the density-evaluation direction (data -> latent),
// which for an inverse-mode flow is its Forward. Init shares this
// traversal: calibration statistics describe exactly the computation a
// subsequent BwdPass repeats.
func BwdPass[B tensor.Backend](f Flow[B], x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	if f.Inverse() {
		return f.Forward(x, h)
	}
	return f.Backward(x, h)
}

// InitPass runs the data-dependent calibration pass in the density
// direction. Only inverse-mode flows initialize this way: the Init traversal
// is structurally the forward computation, which for an inverse flow is the
// one that consumes data.
func InitPass[B tensor.Backend](f Flow[B], x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B]) {
	if !f.Inverse() {
		panic("flows: init pass in the density direction requires an inverse-mode flow")
	}
	return f.Init(x, h, initScale)
}

// gate combines two raw network-output halves: gate(a, b) = a * sigmoid(b).
// Both mu and log-scale come out of the coupling network through this
// symmetric gating rather than a plain split.
func gate[B tensor.Backend](a, b *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return a.Mul(nn.Sigmoid(b))
}

// sumPerExample flattens every non-batch dimension and sums, producing a
// [batch] tensor.
func sumPerExample[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	batch := x.Shape()[0]
	return x.Reshape(batch, x.NumElements()/batch).SumDim(1, false)
}

// zerosLogdet returns a [batch] zero tensor for transforms with unit
// Jacobian determinant.
func zerosLogdet[B tensor.Backend](batch int, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](tensor.Shape{batch}, backend)
}
