package nn

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Conv2dWeightNorm is a 2D convolution with weight normalization:
//
//	weight = g * v / ||v||
//
// where the norm is taken per output channel over the (in, k_h, k_w) axes.
// It supports the data-dependent initialization scheme used by flow coupling
// networks: Init runs a forward pass on real data and rescales g and the
// bias so the output distribution starts with zero mean and a chosen
// standard deviation per channel.
type Conv2dWeightNorm[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	stride      int
	padding     int
	dilation    int

	weightV *Parameter[B] // [out, in, k_h, k_w]
	weightG *Parameter[B] // [out]
	bias    *Parameter[B] // [out]

	backend B
}

// NewConv2dWeightNorm creates a weight-normalized convolution.
// The direction tensor v gets Xavier initialization; g starts at ||v|| so the
// effective weight equals v before any calibration; the bias starts at zero.
func NewConv2dWeightNorm[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding, dilation int,
	backend B,
) *Conv2dWeightNorm[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2dwn: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelH <= 0 || kernelW <= 0 {
		panic(fmt.Sprintf("conv2dwn: invalid kernel size h=%d, w=%d", kernelH, kernelW))
	}
	if stride <= 0 || padding < 0 || dilation <= 0 {
		panic(fmt.Sprintf("conv2dwn: invalid stride=%d padding=%d dilation=%d", stride, padding, dilation))
	}

	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	v := Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelH, kernelW}, backend)

	// g = ||v|| per out channel, so weight == v at construction.
	g := rowNorms(v, outChannels)

	c := &Conv2dWeightNorm[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  [2]int{kernelH, kernelW},
		stride:      stride,
		padding:     padding,
		dilation:    dilation,
		weightV:     NewParameter("conv2dwn.weight_v", v),
		weightG:     NewParameter("conv2dwn.weight_g", g),
		bias:        NewParameter("conv2dwn.bias", Zeros(tensor.Shape{outChannels}, backend)),
		backend:     backend,
	}
	return c
}

// rowNorms computes the L2 norm of each out-channel slice of v.
func rowNorms[B tensor.Backend](v *tensor.Tensor[float32, B], outChannels int) *tensor.Tensor[float32, B] {
	flat := v.Reshape(outChannels, v.NumElements()/outChannels)
	return flat.Mul(flat).SumDim(1, false).Sqrt()
}

// effectiveWeight materializes g * v / ||v||.
func (c *Conv2dWeightNorm[B]) effectiveWeight() *tensor.Tensor[float32, B] {
	norms := rowNorms(c.weightV.Tensor(), c.outChannels)
	factor := c.weightG.Tensor().Div(norms).Reshape(c.outChannels, 1, 1, 1)
	return c.weightV.Tensor().Mul(factor)
}

// Forward performs the convolution.
//
// Input [N, C_in, H, W] -> output [N, C_out, H_out, W_out].
func (c *Conv2dWeightNorm[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2dwn: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2dwn: input channels %d != expected %d", shape[1], c.inChannels))
	}

	weight := c.effectiveWeight()
	raw := c.backend.Conv2D(x.Raw(), weight.Raw(), c.stride, c.padding, c.dilation)
	out := tensor.New[float32, B](raw, c.backend)

	return out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// Init performs data-dependent initialization: it rescales g and shifts the
// bias so each output channel of Forward(x) has mean 0 and standard
// deviation initScale over the batch and spatial axes, then returns the
// recalibrated output. initScale = 0 zeroes the output exactly.
func (c *Conv2dWeightNorm[B]) Init(x *tensor.Tensor[float32, B], initScale float32) *tensor.Tensor[float32, B] {
	out := c.Forward(x)

	shape := out.Shape()
	n := shape[0] * shape[2] * shape[3]
	flat := out.Transpose(1, 0, 2, 3).Reshape(c.outChannels, n)

	mean := flat.MeanDim(1, false) // [out]
	centered := flat.Sub(mean.Reshape(c.outChannels, 1))
	denom := n - 1
	if denom < 1 {
		denom = 1
	}
	std := centered.Mul(centered).SumDim(1, false).DivScalar(float32(denom)).Sqrt()

	invStd := tensor.Full[float32](tensor.Shape{c.outChannels}, initScale, c.backend).
		Div(std.AddScalar(1e-6))

	c.weightG.SetTensor(c.weightG.Tensor().Mul(invStd))
	c.bias.SetTensor(c.bias.Tensor().Sub(mean).Mul(invStd))

	return c.Forward(x)
}

// Parameters returns the trainable parameters.
func (c *Conv2dWeightNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{c.weightV, c.weightG, c.bias}
}

// OutChannels returns the number of output channels.
func (c *Conv2dWeightNorm[B]) OutChannels() int {
	return c.outChannels
}

// String returns a short description of the layer.
func (c *Conv2dWeightNorm[B]) String() string {
	return fmt.Sprintf("Conv2dWeightNorm(in=%d, out=%d, kernel=(%d, %d), stride=%d, padding=%d, dilation=%d)",
		c.inChannels, c.outChannels, c.kernelSize[0], c.kernelSize[1], c.stride, c.padding, c.dilation)
}
