// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/flowgen-ml/flowgen/internal/nn"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Conv1x1 is an invertible linear mixing of the channel dimension, applied
// identically at every spatial position. It shuffles information between
// channel partitions so successive couplings see different splits.
//
// The per-example log-determinant is H*W*log|det(W)|: the same CxC map acts
// once per spatial position.
type Conv1x1[B tensor.Backend] struct {
	inverse  bool
	channels int
	weight   *nn.Parameter[B] // [C, C]
	backend  B
}

// NewConv1x1 creates a channel-mixing transform initialized with a random
// orthogonal matrix, so mixing starts volume-preserving (logdet 0).
func NewConv1x1[B tensor.Backend](channels int, inverse bool, backend B) *Conv1x1[B] {
	if channels <= 0 {
		panic(fmt.Sprintf("conv1x1: invalid channel count %d", channels))
	}

	w := tensor.Zeros[float32](tensor.Shape{channels, channels}, backend)
	orthogonalInit(w.Data(), channels)

	return &Conv1x1[B]{
		inverse:  inverse,
		channels: channels,
		weight:   nn.NewParameter("conv1x1.weight", w),
		backend:  backend,
	}
}

// orthogonalInit fills dst with a random orthogonal CxC matrix (the Q factor
// of a QR decomposition of Gaussian noise).
func orthogonalInit(dst []float32, c int) {
	data := make([]float64, c*c)
	for i := range data {
		//nolint:gosec // math/rand for weight initialization, not security-critical
		data[i] = rand.NormFloat64()
	}

	var qr mat.QR
	qr.Factorize(mat.NewDense(c, c, data))
	var q mat.Dense
	qr.QTo(&q)

	for i := 0; i < c; i++ {
		for j := 0; j < c; j++ {
			dst[i*c+j] = float32(q.At(i, j))
		}
	}
}

// dense copies the weight into a gonum matrix for the determinant and
// inverse computations.
func (c *Conv1x1[B]) dense() *mat.Dense {
	src := c.weight.Tensor().Data()
	data := make([]float64, len(src))
	for i, v := range src {
		data[i] = float64(v)
	}
	return mat.NewDense(c.channels, c.channels, data)
}

// mix applies the CxC matrix at every spatial position of [N, C, H, W].
func (c *Conv1x1[B]) mix(x, w *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv1x1: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != c.channels {
		panic(fmt.Sprintf("conv1x1: input channels %d != expected %d", shape[1], c.channels))
	}

	n, hw := shape[0], shape[2]*shape[3]
	flat := x.Reshape(n, c.channels, hw).Transpose(1, 0, 2).Reshape(c.channels, n*hw)
	out := w.MatMul(flat)
	return out.Reshape(c.channels, n, hw).Transpose(1, 0, 2).Reshape(shape[0], c.channels, shape[2], shape[3])
}

// logdetTensor builds the [batch] log-determinant: H*W*log|det(W)|.
func (c *Conv1x1[B]) logdetTensor(x *tensor.Tensor[float32, B], negate bool) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	ld, _ := mat.LogDet(c.dense())
	value := float64(shape[2]*shape[3]) * ld
	if negate {
		value = -value
	}
	return tensor.Full[float32](tensor.Shape{shape[0]}, float32(value), c.backend)
}

// Forward multiplies every channel vector by W.
func (c *Conv1x1[B]) Forward(x, _ *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	return c.mix(x, c.weight.Tensor()), c.logdetTensor(x, false)
}

// Backward multiplies by the exact matrix inverse of W.
func (c *Conv1x1[B]) Backward(x, _ *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	var inv mat.Dense
	if err := inv.Inverse(c.dense()); err != nil {
		panic(fmt.Sprintf("conv1x1: weight matrix is singular: %v", err))
	}

	w := tensor.Zeros[float32](tensor.Shape{c.channels, c.channels}, c.backend)
	dst := w.Data()
	for i := 0; i < c.channels; i++ {
		for j := 0; j < c.channels; j++ {
			dst[i*c.channels+j] = float32(inv.At(i, j))
		}
	}

	return c.mix(x, w), c.logdetTensor(x, true)
}

// Init applies the forward mixing. The orthogonal start is already
// calibrated (unit determinant), so no data-dependent rescaling applies.
func (c *Conv1x1[B]) Init(x, h *tensor.Tensor[float32, B], _ float32) (out, logdet *tensor.Tensor[float32, B]) {
	return c.Forward(x, h)
}

// Inverse reports the direction convention.
func (c *Conv1x1[B]) Inverse() bool {
	return c.inverse
}

// Parameters returns the mixing matrix.
func (c *Conv1x1[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{c.weight}
}

// String returns a short description.
func (c *Conv1x1[B]) String() string {
	return fmt.Sprintf("Conv1x1(inverse=%v, channels=%d)", c.inverse, c.channels)
}
