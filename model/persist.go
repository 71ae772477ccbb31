// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowgen-ml/flowgen/internal/serialization"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// On-disk layout of a saved model directory.
const (
	configFileName = "config.json"
	paramsFileName = "params.flow"
)

// SaveOptions controls how model parameters are written.
type SaveOptions struct {
	// HalfPrecision stores parameters as float16, halving blob size at a
	// small accuracy cost on reload.
	HalfPrecision bool
}

// Save writes the model to dir as a config.json plus a params.flow
// parameter blob. The directory is created if needed.
func (m *FlowGenModel[B]) Save(dir string, opts SaveOptions) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: failed to create directory: %w", err)
	}

	configJSON, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("model: failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), configJSON, 0o644); err != nil {
		return fmt.Errorf("model: failed to write config: %w", err)
	}

	writer, err := serialization.NewWriter(filepath.Join(dir, paramsFileName))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	defer writer.Close()
	writer.HalfPrecision = opts.HalfPrecision

	if err := writer.WriteStateDict(m.stateDict(), map[string]string{
		"flow_type": m.cfg.Flow.Type,
	}); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return writer.Close()
}

// Load reads a model saved by Save. The parameter blob must match the
// configured flow's parameter list exactly.
func Load[B tensor.Backend](dir string, backend B) (*FlowGenModel[B], error) {
	configJSON, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("model: failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("model: failed to parse config: %w", err)
	}

	m, err := New(cfg, backend)
	if err != nil {
		return nil, err
	}

	reader, err := serialization.NewReader(filepath.Join(dir, paramsFileName))
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	defer reader.Close()

	stateDict, err := reader.ReadStateDict()
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if err := m.loadStateDict(stateDict); err != nil {
		return nil, err
	}
	return m, nil
}

// stateDict keys parameters by their position in the flow's parameter list.
// Parameter names repeat across layers (every weight-normalized conv calls
// its weight "conv2dwn.weight_v"), so the ordinal prefix is what makes keys
// unique; construction order is deterministic for a given config.
func (m *FlowGenModel[B]) stateDict() map[string]*tensor.RawTensor {
	params := m.flow.Parameters()
	stateDict := make(map[string]*tensor.RawTensor, len(params))
	for i, p := range params {
		key := fmt.Sprintf("%04d.%s", i, p.Name())
		stateDict[key] = p.Tensor().Raw()
	}
	return stateDict
}

func (m *FlowGenModel[B]) loadStateDict(stateDict map[string]*tensor.RawTensor) error {
	params := m.flow.Parameters()
	if len(stateDict) != len(params) {
		return fmt.Errorf("model: parameter count mismatch: blob has %d, flow has %d",
			len(stateDict), len(params))
	}
	for i, p := range params {
		key := fmt.Sprintf("%04d.%s", i, p.Name())
		raw, ok := stateDict[key]
		if !ok {
			return fmt.Errorf("model: missing parameter %q", key)
		}
		if !raw.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("model: parameter %q has shape %v, expected %v",
				key, raw.Shape(), p.Tensor().Shape())
		}
		p.SetTensor(tensor.New[float32, B](raw, m.backend))
	}
	return nil
}
