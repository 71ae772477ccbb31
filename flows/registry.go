// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Config describes a flow in a JSON-compatible form. Type selects the
// registered variant; the remaining fields are interpreted by the variant's
// builder and ignored otherwise.
type Config struct {
	Type           string `json:"type"`
	Levels         int    `json:"levels,omitempty"`
	NumSteps       []int  `json:"num_steps,omitempty"`
	InChannels     int    `json:"in_channels"`
	HiddenChannels int    `json:"hidden_channels,omitempty"`
	SChannels      int    `json:"s_channels,omitempty"`
	Dilation       int    `json:"dilation,omitempty"`
	Factor         int    `json:"factor,omitempty"`
	Scale          bool   `json:"scale"`
	Inverse        bool   `json:"inverse"`
}

// Builder constructs a flow variant from its configuration.
type Builder[B tensor.Backend] func(cfg Config, backend B) (Flow[B], error)

// Registry maps flow type names to builders. It is populated explicitly at
// construction rather than through registration side effects, so the set of
// known variants is visible in one place.
type Registry[B tensor.Backend] struct {
	builders map[string]Builder[B]
}

// NewRegistry returns a registry with the built-in flow variants:
// "nice", "conv1x1" and "glow".
func NewRegistry[B tensor.Backend]() *Registry[B] {
	r := &Registry[B]{builders: make(map[string]Builder[B])}
	r.Register("nice", buildNICE[B])
	r.Register("conv1x1", buildConv1x1[B])
	r.Register("glow", buildGlow[B])
	return r
}

// Register adds or replaces a builder for a type name.
func (r *Registry[B]) Register(name string, builder Builder[B]) {
	r.builders[name] = builder
}

// Build validates the configuration and constructs the flow.
func (r *Registry[B]) Build(cfg Config, backend B) (Flow[B], error) {
	builder, ok := r.builders[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("flows: unknown flow type %q", cfg.Type)
	}
	return builder(cfg, backend)
}

func buildNICE[B tensor.Backend](cfg Config, backend B) (Flow[B], error) {
	if cfg.InChannels <= 1 {
		return nil, fmt.Errorf("flows: nice requires in_channels > 1, got %d", cfg.InChannels)
	}
	return NewNICE(cfg.InChannels, cfg.HiddenChannels, cfg.SChannels,
		cfg.Scale, cfg.Inverse, cfg.Dilation, cfg.Factor, backend), nil
}

func buildConv1x1[B tensor.Backend](cfg Config, backend B) (Flow[B], error) {
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("flows: conv1x1 requires in_channels > 0, got %d", cfg.InChannels)
	}
	return NewConv1x1(cfg.InChannels, cfg.Inverse, backend), nil
}

func buildGlow[B tensor.Backend](cfg Config, backend B) (Flow[B], error) {
	if cfg.Levels <= 1 {
		return nil, fmt.Errorf("flows: glow requires at least 2 levels, got %d", cfg.Levels)
	}
	if len(cfg.NumSteps) != cfg.Levels {
		return nil, fmt.Errorf("flows: glow got %d step counts for %d levels", len(cfg.NumSteps), cfg.Levels)
	}
	for i, steps := range cfg.NumSteps {
		if steps <= 0 {
			return nil, fmt.Errorf("flows: glow level %d has invalid step count %d", i, steps)
		}
	}
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("flows: glow requires in_channels > 0, got %d", cfg.InChannels)
	}
	return NewGlow(cfg.Levels, cfg.NumSteps, cfg.InChannels, cfg.Scale, cfg.Inverse, backend), nil
}
