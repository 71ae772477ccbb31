package flows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgen-ml/flowgen/internal/backend/cpu"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

type cpuTensor = tensor.Tensor[float32, *cpu.CPUBackend]

func assertTensorsClose(t *testing.T, expected, actual *cpuTensor, tol float64) {
	t.Helper()
	require.True(t, expected.Shape().Equal(actual.Shape()),
		"shape mismatch: %v vs %v", expected.Shape(), actual.Shape())
	exp, act := expected.Data(), actual.Data()
	for i := range exp {
		assert.InDelta(t, exp[i], act[i], tol, "mismatch at index %d", i)
	}
}

func TestSqueeze2dKnownLayout(t *testing.T) {
	backend := cpu.New()
	// One channel, 4x4: values 0..15 in row-major order.
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	x, err := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4}, backend)
	require.NoError(t, err)

	out := Squeeze2d(x, 2)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 4, 2, 2}))

	// Channel (fh, fw) holds the pixels at offsets (fh, fw) inside each
	// 2x2 cell.
	want := []float32{
		0, 2, 8, 10, // fh=0, fw=0
		1, 3, 9, 11, // fh=0, fw=1
		4, 6, 12, 14, // fh=1, fw=0
		5, 7, 13, 15, // fh=1, fw=1
	}
	for i, w := range want {
		assert.InDelta(t, w, out.Data()[i], 0, "index %d", i)
	}
}

func TestSqueezeUnsqueezeRoundTrip(t *testing.T) {
	backend := cpu.New()
	for _, factor := range []int{1, 2, 4} {
		x := tensor.Randn[float32](tensor.Shape{2, 3, 8, 8}, backend)
		back := Unsqueeze2d(Squeeze2d(x, factor), factor)
		assertTensorsClose(t, x, back, 0)
	}
}

func TestUnsqueezeSqueezeRoundTrip(t *testing.T) {
	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{2, 12, 4, 4}, backend)
	back := Squeeze2d(Unsqueeze2d(x, 2), 2)
	assertTensorsClose(t, x, back, 0)
}

func TestSqueeze2dValidation(t *testing.T) {
	backend := cpu.New()

	odd := tensor.Randn[float32](tensor.Shape{1, 3, 5, 4}, backend)
	assert.Panics(t, func() { Squeeze2d(odd, 2) }, "odd height must panic")

	threeD := tensor.Randn[float32](tensor.Shape{3, 4, 4}, backend)
	assert.Panics(t, func() { Squeeze2d(threeD, 2) }, "non-4D input must panic")

	x := tensor.Randn[float32](tensor.Shape{1, 3, 4, 4}, backend)
	assert.Panics(t, func() { Squeeze2d(x, 0) }, "factor < 1 must panic")
	assert.Panics(t, func() { Unsqueeze2d(x, 2) }, "channels not divisible by factor^2 must panic")
}

func TestSplitUnsplitRoundTrip(t *testing.T) {
	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{2, 8, 4, 4}, backend)

	z1, z2 := Split2d(x)
	require.True(t, z1.Shape().Equal(tensor.Shape{2, 4, 4, 4}))
	require.True(t, z2.Shape().Equal(tensor.Shape{2, 4, 4, 4}))

	assertTensorsClose(t, x, Unsplit2d(z1, z2), 0)
}

func TestResidualStackDiscipline(t *testing.T) {
	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{1, 2, 2, 2}, backend)

	s := newResidualStack[*cpu.CPUBackend](1)
	s.push(x)
	assert.Panics(t, func() { s.push(x) }, "overflow must panic")

	got := s.pop()
	assertTensorsClose(t, x, got, 0)
	assert.Panics(t, func() { s.pop() }, "underflow must panic")

	s.push(x)
	assert.Panics(t, func() { s.requireEmpty() }, "leftover entries must panic")
}
