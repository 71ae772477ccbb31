package flows

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgen-ml/flowgen/internal/backend/cpu"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

func TestConv1x1OrthogonalStart(t *testing.T) {
	backend := cpu.New()
	c := NewConv1x1(4, false, backend)

	// An orthogonal matrix has |det| = 1, so the starting transform is
	// volume-preserving.
	x := tensor.Randn[float32](tensor.Shape{2, 4, 3, 3}, backend)
	_, logdet := c.Forward(x, nil)
	for i, v := range logdet.Data() {
		assert.InDelta(t, 0, v, 1e-3, "logdet example %d", i)
	}
}

func TestConv1x1RoundTrip(t *testing.T) {
	backend := cpu.New()
	c := NewConv1x1(6, false, backend)

	x := tensor.Randn[float32](tensor.Shape{3, 6, 5, 5}, backend)
	y, fwdLogdet := c.Forward(x, nil)
	back, bwdLogdet := c.Backward(y, nil)

	assertTensorsClose(t, x, back, 1e-4)
	for i, v := range fwdLogdet.Data() {
		assert.InDelta(t, -v, bwdLogdet.Data()[i], 1e-4)
	}
}

func TestConv1x1AnalyticLogdet(t *testing.T) {
	backend := cpu.New()
	c := NewConv1x1(2, false, backend)

	// diag(2, 3): det = 6, applied at each of the H*W = 12 positions.
	w, err := tensor.FromSlice([]float32{2, 0, 0, 3}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	c.Parameters()[0].SetTensor(w)

	x := tensor.Randn[float32](tensor.Shape{2, 2, 3, 4}, backend)
	y, logdet := c.Forward(x, nil)

	want := 12 * math.Log(6)
	for i, v := range logdet.Data() {
		assert.InDelta(t, want, v, 1e-3, "logdet example %d", i)
	}

	// With a diagonal matrix the mixing is a per-channel scaling.
	ch0In, ch0Out := x.Narrow(1, 0, 1), y.Narrow(1, 0, 1)
	for i, v := range ch0In.Data() {
		assert.InDelta(t, 2*v, ch0Out.Data()[i], 1e-4)
	}
	ch1In, ch1Out := x.Narrow(1, 1, 1), y.Narrow(1, 1, 1)
	for i, v := range ch1In.Data() {
		assert.InDelta(t, 3*v, ch1Out.Data()[i], 1e-4)
	}
}

func TestConv1x1MixesPerPosition(t *testing.T) {
	backend := cpu.New()
	c := NewConv1x1(3, false, backend)

	// Two inputs differing only at one spatial position must produce
	// outputs differing only there: the mixing has no spatial extent.
	x := tensor.Randn[float32](tensor.Shape{1, 3, 4, 4}, backend)
	x2 := x.Clone()
	x2.Data()[5] += 1 // channel 0, position (1, 1)

	y, _ := c.Forward(x, nil)
	y2, _ := c.Forward(x2, nil)

	for i := range y.Data() {
		pos := i % 16
		if pos == 5 {
			continue
		}
		assert.InDelta(t, y.Data()[i], y2.Data()[i], 1e-5, "position %d must be unaffected", i)
	}
}

func TestConv1x1InitMatchesForward(t *testing.T) {
	backend := cpu.New()
	c := NewConv1x1(4, true, backend)

	x := tensor.Randn[float32](tensor.Shape{2, 4, 4, 4}, backend)
	initOut, initLd := c.Init(x, nil, 1.0)
	fwdOut, fwdLd := c.Forward(x, nil)

	assertTensorsClose(t, fwdOut, initOut, 0)
	assertTensorsClose(t, fwdLd, initLd, 0)
}

func TestConv1x1Validation(t *testing.T) {
	backend := cpu.New()
	assert.Panics(t, func() { NewConv1x1(0, false, backend) })

	c := NewConv1x1(3, false, backend)
	wrong := tensor.Randn[float32](tensor.Shape{1, 4, 2, 2}, backend)
	assert.Panics(t, func() { c.Forward(wrong, nil) })
}
