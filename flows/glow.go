// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/nn"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// GlowStep is the atomic invertible unit: a Conv1x1 channel mixing followed
// by a NICE coupling. Backward runs the sub-transforms in reverse order.
type GlowStep[B tensor.Backend] struct {
	inverse  bool
	conv1x1  *Conv1x1[B]
	coupling *NICE[B]
}

// NewGlowStep creates one step over inChannels channels.
func NewGlowStep[B tensor.Backend](inChannels, hiddenChannels int, scale, inverse bool, backend B) *GlowStep[B] {
	return &GlowStep[B]{
		inverse:  inverse,
		conv1x1:  NewConv1x1(inChannels, inverse, backend),
		coupling: NewNICE(inChannels, hiddenChannels, 0, scale, inverse, 0, 0, backend),
	}
}

// Forward applies mixing then coupling; logdets add.
func (s *GlowStep[B]) Forward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	out, logdetAccum := s.conv1x1.Forward(x, h)
	out, logdet = s.coupling.Forward(out, h)
	return out, logdetAccum.Add(logdet)
}

// Backward inverts the coupling, then the mixing.
func (s *GlowStep[B]) Backward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	out, logdetAccum := s.coupling.Backward(x, h)
	out, logdet = s.conv1x1.Backward(out, h)
	return out, logdetAccum.Add(logdet)
}

// Init threads the init-scale through both sub-transforms in forward order.
func (s *GlowStep[B]) Init(x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B]) {
	out, logdetAccum := s.conv1x1.Init(x, h, initScale)
	out, logdet = s.coupling.Init(out, h, initScale)
	return out, logdetAccum.Add(logdet)
}

// Inverse reports the direction convention.
func (s *GlowStep[B]) Inverse() bool {
	return s.inverse
}

// Parameters returns the parameters of both sub-transforms.
func (s *GlowStep[B]) Parameters() []*nn.Parameter[B] {
	return append(s.conv1x1.Parameters(), s.coupling.Parameters()...)
}

// blockKind tags the two block variants. The tag replaces dynamic type
// inspection: the composer checks it once per traversal to decide whether a
// level factors out a channel partition.
type blockKind int

const (
	// topBlock runs its steps and keeps the whole tensor.
	topBlock blockKind = iota
	// internalBlock adds a trailing coupling prior and has half of its
	// output split off by the composer.
	internalBlock
)

// glowBlock is a sequence of steps at one spatial resolution. Internal
// blocks append a NICE prior that reshapes the statistics of the tensor
// half about to be factored out.
type glowBlock[B tensor.Backend] struct {
	inverse bool
	kind    blockKind
	steps   []*GlowStep[B]
	prior   *NICE[B] // nil for top blocks
}

func newGlowBlock[B tensor.Backend](kind blockKind, numSteps, inChannels int, scale, inverse bool, backend B) *glowBlock[B] {
	if numSteps <= 0 {
		panic(fmt.Sprintf("glow: invalid step count %d", numSteps))
	}

	steps := make([]*GlowStep[B], numSteps)
	for i := range steps {
		steps[i] = NewGlowStep(inChannels, 0, scale, inverse, backend)
	}

	b := &glowBlock[B]{inverse: inverse, kind: kind, steps: steps}
	if kind == internalBlock {
		// The prior always learns a scale, independent of the step couplings.
		b.prior = NewNICE(inChannels, 0, 0, true, inverse, 0, 0, backend)
	}
	return b
}

func (b *glowBlock[B]) forward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	out = x
	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	for _, step := range b.steps {
		var ld *tensor.Tensor[float32, B]
		out, ld = step.Forward(out, h)
		logdetAccum = logdetAccum.Add(ld)
	}
	if b.kind == internalBlock {
		var ld *tensor.Tensor[float32, B]
		out, ld = b.prior.Forward(out, h)
		logdetAccum = logdetAccum.Add(ld)
	}
	return out, logdetAccum
}

func (b *glowBlock[B]) backward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	out = x
	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	if b.kind == internalBlock {
		var ld *tensor.Tensor[float32, B]
		out, ld = b.prior.Backward(out, h)
		logdetAccum = logdetAccum.Add(ld)
	}
	for i := len(b.steps) - 1; i >= 0; i-- {
		var ld *tensor.Tensor[float32, B]
		out, ld = b.steps[i].Backward(out, h)
		logdetAccum = logdetAccum.Add(ld)
	}
	return out, logdetAccum
}

func (b *glowBlock[B]) init(x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B]) {
	out = x
	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	for _, step := range b.steps {
		var ld *tensor.Tensor[float32, B]
		out, ld = step.Init(out, h, initScale)
		logdetAccum = logdetAccum.Add(ld)
	}
	if b.kind == internalBlock {
		var ld *tensor.Tensor[float32, B]
		out, ld = b.prior.Init(out, h, initScale)
		logdetAccum = logdetAccum.Add(ld)
	}
	return out, logdetAccum
}

func (b *glowBlock[B]) parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, step := range b.steps {
		params = append(params, step.Parameters()...)
	}
	if b.prior != nil {
		params = append(params, b.prior.Parameters()...)
	}
	return params
}

// Glow is the multi-scale composer: L resolution levels, each squeezing
// space into channels, running a block of steps, and (except at the last
// level) splitting half the channels off as a per-scale latent factor.
//
// The factored partitions are folded back on the way out, so both
// directions map a [N, C, H, W] tensor to a tensor of the same layout while
// accumulating one scalar log-determinant per example.
type Glow[B tensor.Backend] struct {
	inverse bool
	levels  int
	blocks  []*glowBlock[B]
}

// NewGlow creates a composer with the given level count and per-level step
// counts. Glow needs at least 2 levels, and one step count per level;
// violations are fatal configuration errors.
func NewGlow[B tensor.Backend](levels int, numSteps []int, inChannels int, scale, inverse bool, backend B) *Glow[B] {
	if levels <= 1 {
		panic(fmt.Sprintf("glow: need at least 2 levels, got %d", levels))
	}
	if len(numSteps) != levels {
		panic(fmt.Sprintf("glow: got %d step counts for %d levels", len(numSteps), levels))
	}

	blocks := make([]*glowBlock[B], levels)
	channels := inChannels
	for level := 0; level < levels; level++ {
		channels *= 4 // squeeze quadruples the channel count
		if level == levels-1 {
			blocks[level] = newGlowBlock(topBlock, numSteps[level], channels, scale, inverse, backend)
		} else {
			blocks[level] = newGlowBlock(internalBlock, numSteps[level], channels, scale, inverse, backend)
			channels /= 2 // split factors half the channels out
		}
	}

	return &Glow[B]{inverse: inverse, levels: levels, blocks: blocks}
}

// Forward descends the resolution hierarchy: squeeze, run the level's
// block, split off half the channels at internal levels, then fold every
// factored partition back in reverse order on the way out.
func (g *Glow[B]) Forward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	out = x
	residuals := newResidualStack[B](g.levels - 1)

	for _, block := range g.blocks {
		out = Squeeze2d(out, 2)
		var ld *tensor.Tensor[float32, B]
		out, ld = block.forward(out, h)
		logdetAccum = logdetAccum.Add(ld)
		if block.kind == internalBlock {
			out1, out2 := Split2d(out)
			residuals.push(out2)
			out = out1
		}
	}

	out = Unsqueeze2d(out, 2)
	for i := 0; i < g.levels-1; i++ {
		out = Unsqueeze2d(Unsplit2d(out, residuals.pop()), 2)
	}
	residuals.requireEmpty()
	return out, logdetAccum
}

// Backward is the exact structural mirror: pre-squeeze and pre-split to
// rebuild the residual stack, then ascend the levels in reverse, merging
// each factored partition back before its block inverts.
func (g *Glow[B]) Backward(x, h *tensor.Tensor[float32, B]) (out, logdet *tensor.Tensor[float32, B]) {
	residuals := newResidualStack[B](g.levels - 1)
	out = Squeeze2d(x, 2)
	for i := 0; i < g.levels-1; i++ {
		out1, out2 := Split2d(out)
		residuals.push(out2)
		out = Squeeze2d(out1, 2)
	}

	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	for i := len(g.blocks) - 1; i >= 0; i-- {
		block := g.blocks[i]
		if block.kind == internalBlock {
			out = Unsplit2d(out, residuals.pop())
		}
		var ld *tensor.Tensor[float32, B]
		out, ld = block.backward(out, h)
		logdetAccum = logdetAccum.Add(ld)
		out = Unsqueeze2d(out, 2)
	}
	residuals.requireEmpty()
	return out, logdetAccum
}

// Init runs the forward traversal with data-dependent calibration at every
// block, under the same stack discipline.
func (g *Glow[B]) Init(x, h *tensor.Tensor[float32, B], initScale float32) (out, logdet *tensor.Tensor[float32, B]) {
	logdetAccum := zerosLogdet(x.Shape()[0], x.Backend())
	out = x
	residuals := newResidualStack[B](g.levels - 1)

	for _, block := range g.blocks {
		out = Squeeze2d(out, 2)
		var ld *tensor.Tensor[float32, B]
		out, ld = block.init(out, h, initScale)
		logdetAccum = logdetAccum.Add(ld)
		if block.kind == internalBlock {
			out1, out2 := Split2d(out)
			residuals.push(out2)
			out = out1
		}
	}

	out = Unsqueeze2d(out, 2)
	for i := 0; i < g.levels-1; i++ {
		out = Unsqueeze2d(Unsplit2d(out, residuals.pop()), 2)
	}
	residuals.requireEmpty()
	return out, logdetAccum
}

// Inverse reports the direction convention.
func (g *Glow[B]) Inverse() bool {
	return g.inverse
}

// Levels returns the number of resolution levels.
func (g *Glow[B]) Levels() int {
	return g.levels
}

// Parameters returns every parameter across all levels, in traversal order.
func (g *Glow[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, block := range g.blocks {
		params = append(params, block.parameters()...)
	}
	return params
}
