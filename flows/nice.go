// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/nn"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// DefaultInverseEps is the offset added to the scale during the inverse
// coupling division. The value follows the usual flow implementations; it is
// adjustable per transform via SetInverseEps for stricter numerical audits.
const DefaultInverseEps = 1e-12

// maxHiddenChannels caps the automatically chosen coupling-network width.
const maxHiddenChannels = 512

// couplingNet is the feed-forward network computing coupling parameters
// from the untouched partition: two hidden weight-normalized convolutions
// with ELU in between and a final projection initialized to zero output.
type couplingNet[B tensor.Backend] struct {
	conv1 *nn.Conv2dWeightNorm[B]
	conv2 *nn.Conv2dWeightNorm[B]
	conv3 *nn.Conv2dWeightNorm[B]
}

func newCouplingNet[B tensor.Backend](inChannels, outChannels, hiddenChannels, sChannels, dilation int, backend B) *couplingNet[B] {
	return &couplingNet[B]{
		conv1: nn.NewConv2dWeightNorm(inChannels+sChannels, hiddenChannels, 3, 3, 1, dilation, dilation, backend),
		conv2: nn.NewConv2dWeightNorm(hiddenChannels, hiddenChannels, 1, 1, 1, 0, 1, backend),
		conv3: nn.NewConv2dWeightNorm(hiddenChannels, outChannels, 3, 3, 1, dilation, dilation, backend),
	}
}

func (net *couplingNet[B]) forward(x, s *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if s != nil {
		x = tensor.Cat([]*tensor.Tensor[float32, B]{x, s}, 1)
	}
	out := nn.ELU(net.conv1.Forward(x))
	out = nn.ELU(net.conv2.Forward(out))
	return net.conv3.Forward(out)
}

func (net *couplingNet[B]) init(x, s *tensor.Tensor[float32, B], initScale float32) *tensor.Tensor[float32, B] {
	if s != nil {
		x = tensor.Cat([]*tensor.Tensor[float32, B]{x, s}, 1)
	}
	out := nn.ELU(net.conv1.Init(x, initScale))
	out = nn.ELU(net.conv2.Init(out, initScale))
	// Zero init scale on the projection: the coupling starts near identity.
	return net.conv3.Init(out, 0)
}

func (net *couplingNet[B]) parameters() []*nn.Parameter[B] {
	params := net.conv1.Parameters()
	params = append(params, net.conv2.Parameters()...)
	return append(params, net.conv3.Parameters()...)
}

// NICE is an affine coupling transform.
//
// The input's channels split into z1 (first inChannels - inChannels/factor)
// and z2 (remainder). z1 passes through unchanged while z2 receives an
// invertible affine update whose parameters are computed from z1:
//
//	z2' = z2 * scale + mu     (scale mode)
//	z2' = z2 + mu             (otherwise, zero log-determinant)
//
// mu and log-scale each come from gating two halves of the network output;
// scale = sigmoid(log_scale + 2) stays in a bounded positive range.
type NICE[B tensor.Backend] struct {
	inverse    bool
	inChannels int
	z1Channels int
	scale      bool
	eps        float32
	net        *couplingNet[B]
	backend    B
}

// NewNICE creates a coupling transform over inChannels channels.
//
// hiddenChannels <= 0 selects min(8*inChannels, 512). sChannels is the width
// of the optional side-conditioning tensor (0 for none). dilation <= 0 and
// factor <= 0 select the defaults 1 and 2.
func NewNICE[B tensor.Backend](inChannels, hiddenChannels, sChannels int, scale, inverse bool, dilation, factor int, backend B) *NICE[B] {
	if factor <= 0 {
		factor = 2
	}
	if inChannels < factor {
		panic(fmt.Sprintf("nice: in_channels %d smaller than split factor %d", inChannels, factor))
	}
	if hiddenChannels <= 0 {
		hiddenChannels = min(8*inChannels, maxHiddenChannels)
	}
	if dilation <= 0 {
		dilation = 1
	}

	outChannels := inChannels / factor
	z1Channels := inChannels - outChannels
	if scale {
		outChannels *= 2
	}

	return &NICE[B]{
		inverse:    inverse,
		inChannels: inChannels,
		z1Channels: z1Channels,
		scale:      scale,
		eps:        DefaultInverseEps,
		net:        newCouplingNet(z1Channels, outChannels*2, hiddenChannels, sChannels, dilation, backend),
		backend:    backend,
	}
}

// SetInverseEps overrides the epsilon guarding the inverse-scale division.
func (n *NICE[B]) SetInverseEps(eps float32) {
	n.eps = eps
}

// split separates the untouched and transformed channel partitions.
func (n *NICE[B]) split(x *tensor.Tensor[float32, B]) (z1, z2 *tensor.Tensor[float32, B]) {
	z1 = x.Narrow(1, 0, n.z1Channels)
	z2 = x.Narrow(1, n.z1Channels, n.inChannels-n.z1Channels)
	return z1, z2
}

// calcMuAndScale computes the coupling parameters from z1. scale is nil when
// scale mode is off.
func (n *NICE[B]) calcMuAndScale(z1, s *tensor.Tensor[float32, B]) (mu, scale *tensor.Tensor[float32, B]) {
	c := n.net.forward(z1, s)
	return n.gateOutputs(c)
}

// initNet is calcMuAndScale with the data-dependent network calibration.
func (n *NICE[B]) initNet(z1, s *tensor.Tensor[float32, B], initScale float32) (mu, scale *tensor.Tensor[float32, B]) {
	c := n.net.init(z1, s, initScale)
	return n.gateOutputs(c)
}

func (n *NICE[B]) gateOutputs(c *tensor.Tensor[float32, B]) (mu, scale *tensor.Tensor[float32, B]) {
	if n.scale {
		parts := c.Chunk(4, 1)
		mu = gate(parts[0], parts[1])
		logScale := gate(parts[2], parts[3])
		scale = nn.Sigmoid(logScale.AddScalar(2))
		return mu, scale
	}
	parts := c.Chunk(2, 1)
	return gate(parts[0], parts[1]), nil
}

// Forward applies the coupling: z2' = z2*scale + mu (z1 unchanged).
func (n *NICE[B]) Forward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	z1, z2 := n.split(x)
	mu, scale := n.calcMuAndScale(z1, h)
	if n.scale {
		z2 = z2.Mul(scale)
		logdet = sumPerExample(scale.Log())
	} else {
		logdet = zerosLogdet(x.Shape()[0], n.backend)
	}
	z2 = z2.Add(mu)
	return Unsplit2d(z1, z2), logdet
}

// Backward inverts the coupling: the parameters recompute identically from
// the untouched z1, then z2 = (z2' - mu) / (scale + eps).
func (n *NICE[B]) Backward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	z1, z2 := n.split(x)
	mu, scale := n.calcMuAndScale(z1, h)
	z2 = z2.Sub(mu)
	if n.scale {
		z2 = z2.Div(scale.AddScalar(n.eps))
		logdet = sumPerExample(scale.Log()).MulScalar(-1)
	} else {
		logdet = zerosLogdet(x.Shape()[0], n.backend)
	}
	return Unsplit2d(z1, z2), logdet
}

// Init applies the forward transform with data-dependent calibration of the
// coupling network.
func (n *NICE[B]) Init(x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B]) {
	z1, z2 := n.split(x)
	mu, scale := n.initNet(z1, h, initScale)
	if n.scale {
		z2 = z2.Mul(scale)
		logdet = sumPerExample(scale.Log())
	} else {
		logdet = zerosLogdet(x.Shape()[0], n.backend)
	}
	z2 = z2.Add(mu)
	return Unsplit2d(z1, z2), logdet
}

// Inverse reports the direction convention.
func (n *NICE[B]) Inverse() bool {
	return n.inverse
}

// Parameters returns the coupling network parameters.
func (n *NICE[B]) Parameters() []*nn.Parameter[B] {
	return n.net.parameters()
}

// String returns a short description.
func (n *NICE[B]) String() string {
	return fmt.Sprintf("NICE(inverse=%v, in_channels=%d, scale=%v)", n.inverse, n.inChannels, n.scale)
}
