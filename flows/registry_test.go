package flows

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgen-ml/flowgen/internal/backend/cpu"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

func TestRegistryBuildsBuiltins(t *testing.T) {
	backend := cpu.New()
	registry := NewRegistry[*cpu.CPUBackend]()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"nice", Config{Type: "nice", InChannels: 4, Scale: true}},
		{"conv1x1", Config{Type: "conv1x1", InChannels: 4}},
		{"glow", Config{Type: "glow", Levels: 2, NumSteps: []int{1, 1}, InChannels: 3, Scale: true, Inverse: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := registry.Build(tc.cfg, backend)
			require.NoError(t, err)
			assert.Equal(t, tc.cfg.Inverse, f.Inverse())
			assert.NotEmpty(t, f.Parameters())
		})
	}
}

func TestRegistryUnknownType(t *testing.T) {
	registry := NewRegistry[*cpu.CPUBackend]()
	_, err := registry.Build(Config{Type: "planar"}, cpu.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow type")
}

func TestRegistryValidation(t *testing.T) {
	backend := cpu.New()
	registry := NewRegistry[*cpu.CPUBackend]()

	bad := []Config{
		{Type: "nice", InChannels: 1},
		{Type: "conv1x1", InChannels: 0},
		{Type: "glow", Levels: 1, NumSteps: []int{1}, InChannels: 3},
		{Type: "glow", Levels: 2, NumSteps: []int{1}, InChannels: 3},
		{Type: "glow", Levels: 2, NumSteps: []int{1, -1}, InChannels: 3},
		{Type: "glow", Levels: 2, NumSteps: []int{1, 1}, InChannels: 0},
	}
	for _, cfg := range bad {
		_, err := registry.Build(cfg, backend)
		assert.Error(t, err, "config %+v must be rejected", cfg)
	}
}

func TestRegistryCustomBuilder(t *testing.T) {
	backend := cpu.New()
	registry := NewRegistry[*cpu.CPUBackend]()
	registry.Register("mixing", func(cfg Config, b *cpu.CPUBackend) (Flow[*cpu.CPUBackend], error) {
		return NewConv1x1(cfg.InChannels, cfg.Inverse, b), nil
	})

	f, err := registry.Build(Config{Type: "mixing", InChannels: 5}, backend)
	require.NoError(t, err)
	assert.Len(t, f.Parameters(), 1)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := Config{
		Type:       "glow",
		Levels:     3,
		NumSteps:   []int{4, 4, 2},
		InChannels: 3,
		Scale:      true,
		Inverse:    true,
	}

	blob, err := json.Marshal(cfg)
	require.NoError(t, err)

	var back Config
	require.NoError(t, json.Unmarshal(blob, &back))
	assert.Equal(t, cfg, back)

	// Round trip through the registry with the decoded config.
	f, err := NewRegistry[*cpu.CPUBackend]().Build(back, cpu.New())
	require.NoError(t, err)

	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{1, 3, 16, 16}, backend)
	z, _ := BwdPass[*cpu.CPUBackend](f, x, nil)
	assert.True(t, z.Shape().Equal(x.Shape()))
}
