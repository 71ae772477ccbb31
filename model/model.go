// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model wraps a flow in a generative-model API: encoding data to
// latent codes with densities under a standard Gaussian prior, decoding
// latent codes back to data, and persisting the whole model to disk.
package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/flowgen-ml/flowgen/flows"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// log(2*pi), for the standard Gaussian log-density.
var log2Pi = float32(math.Log(2 * math.Pi))

// Config describes a generative model: the flow it wraps and how many
// shards a batch is split into for concurrent passes.
type Config struct {
	Flow    flows.Config `json:"flow"`
	NShards int          `json:"nshards"`
}

// FlowGenModel is a generative model built on an inverse-mode flow: the
// flow's forward direction consumes data, so density evaluation is a plain
// forward pass and decoding runs the flow backward. Init calibrates along
// that same forward traversal, so a subsequent Encode of the init batch
// reproduces the init output exactly.
type FlowGenModel[B tensor.Backend] struct {
	cfg     Config
	flow    flows.Flow[B]
	backend B
}

// New builds the flow described by cfg and wraps it. The flow must be in
// inverse mode and nshards must be at least 1.
func New[B tensor.Backend](cfg Config, backend B) (*FlowGenModel[B], error) {
	flow, err := flows.NewRegistry[B]().Build(cfg.Flow, backend)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	return ForFlow(cfg, flow, backend)
}

// ForFlow wraps an already-constructed flow. Used by New and by tests that
// build flows directly.
func ForFlow[B tensor.Backend](cfg Config, flow flows.Flow[B], backend B) (*FlowGenModel[B], error) {
	if !flow.Inverse() {
		return nil, fmt.Errorf("model: generative model requires an inverse-mode flow")
	}
	if cfg.NShards < 1 {
		return nil, fmt.Errorf("model: nshards must be at least 1, got %d", cfg.NShards)
	}
	return &FlowGenModel[B]{cfg: cfg, flow: flow, backend: backend}, nil
}

// Flow returns the wrapped flow.
func (m *FlowGenModel[B]) Flow() flows.Flow[B] {
	return m.flow
}

// Config returns the model configuration.
func (m *FlowGenModel[B]) Config() Config {
	return m.cfg
}

// Encode runs the density-evaluation direction: data in, latent code and
// the per-example log-determinant out. Batches are split across shards and
// processed concurrently; results are identical to a single-shard pass.
//
// The third return is the list of auxiliary per-scale latents. The built-in
// multi-scale composer folds every factored partition back into z, so the
// list is empty; the slot exists for flow variants that externalize their
// per-scale factors.
func (m *FlowGenModel[B]) Encode(x *tensor.Tensor[float32, B]) (z, logdet *tensor.Tensor[float32, B], eps []*tensor.Tensor[float32, B]) {
	z, logdet = m.sharded(x, func(shard *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
		return flows.BwdPass(m.flow, shard, nil)
	})
	return z, logdet, nil
}

// Decode runs the generation direction: latent code in, data out. The
// returned logdet is the negation of the one Encode reports for the same
// pair. eps must be the (possibly empty) auxiliary latent list from Encode.
func (m *FlowGenModel[B]) Decode(z *tensor.Tensor[float32, B], eps []*tensor.Tensor[float32, B]) (x, logdet *tensor.Tensor[float32, B]) {
	if len(eps) != 0 {
		panic(fmt.Sprintf("model: flow folds auxiliary latents into z, got %d externalized tensors", len(eps)))
	}
	return m.sharded(z, func(shard *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
		return flows.FwdPass(m.flow, shard, nil)
	})
}

// Init runs the data-dependent calibration pass on a representative batch.
// It must be called once, before any Encode or Decode, and runs unsharded:
// calibration statistics must see the whole batch.
func (m *FlowGenModel[B]) Init(data *tensor.Tensor[float32, B], initScale float32) (z, logdet *tensor.Tensor[float32, B]) {
	return flows.InitPass(m.flow, data, nil, initScale)
}

// LogProbability returns the per-example log-density of x under the model:
// the standard Gaussian log-density of the latent code plus the
// log-determinant of the encoding transform. Shape [batch].
func (m *FlowGenModel[B]) LogProbability(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	z, logdet, _ := m.Encode(x)
	prior := z.Mul(z).AddScalar(log2Pi).MulScalar(-0.5)
	batch := x.Shape()[0]
	return prior.Reshape(batch, prior.NumElements()/batch).SumDim(1, false).Add(logdet)
}

// sharded splits x along the batch dimension, runs pass on each shard in
// its own goroutine, and concatenates results in order.
func (m *FlowGenModel[B]) sharded(
	x *tensor.Tensor[float32, B],
	pass func(*tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]),
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := x.Shape()[0]
	nshards := m.cfg.NShards
	if nshards > batch {
		nshards = batch
	}
	if nshards == 1 {
		return pass(x)
	}

	outs := make([]*tensor.Tensor[float32, B], nshards)
	logdets := make([]*tensor.Tensor[float32, B], nshards)

	base := batch / nshards
	rem := batch % nshards

	var wg sync.WaitGroup
	start := 0
	for i := 0; i < nshards; i++ {
		length := base
		if i < rem {
			length++
		}
		shard := x.Narrow(0, start, length)
		start += length

		wg.Add(1)
		go func(i int, shard *tensor.Tensor[float32, B]) {
			defer wg.Done()
			outs[i], logdets[i] = pass(shard)
		}(i, shard)
	}
	wg.Wait()

	return tensor.Cat(outs, 0), tensor.Cat(logdets, 0)
}

// SampleLatent draws a standard Gaussian latent code with the given shape.
func (m *FlowGenModel[B]) SampleLatent(shape tensor.Shape) *tensor.Tensor[float32, B] {
	return tensor.Randn[float32](shape, m.backend)
}
