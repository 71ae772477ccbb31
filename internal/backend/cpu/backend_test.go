package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.Tensor[float32, *CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, New())
	require.NoError(t, err)
	return x
}

func assertAllClose(t *testing.T, expected, actual []float32, tol float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], tol, "mismatch at index %d", i)
	}
}

func TestElementwiseOps(t *testing.T) {
	a := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, []float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	assertAllClose(t, []float32{6, 8, 10, 12}, a.Add(b).Data(), 1e-6)
	assertAllClose(t, []float32{-4, -4, -4, -4}, a.Sub(b).Data(), 1e-6)
	assertAllClose(t, []float32{5, 12, 21, 32}, a.Mul(b).Data(), 1e-6)
	assertAllClose(t, []float32{0.2, 2.0 / 6, 3.0 / 7, 0.5}, a.Div(b).Data(), 1e-6)
}

func TestBroadcastAdd(t *testing.T) {
	// [2, 3, 1, 1] bias against a [1, 3, 2, 2] activation layout.
	x := fromSlice(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	}, tensor.Shape{1, 3, 2, 2})
	bias := fromSlice(t, []float32{10, 20, 30}, tensor.Shape{1, 3, 1, 1})

	got := x.Add(bias)
	assertAllClose(t, []float32{
		11, 12, 13, 14,
		25, 26, 27, 28,
		39, 40, 41, 42,
	}, got.Data(), 1e-6)
}

func TestScalarOps(t *testing.T) {
	x := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{3})

	assertAllClose(t, []float32{3, 4, 5}, x.AddScalar(2).Data(), 1e-6)
	assertAllClose(t, []float32{0, 1, 2}, x.SubScalar(1).Data(), 1e-6)
	assertAllClose(t, []float32{2, 4, 6}, x.MulScalar(2).Data(), 1e-6)
	assertAllClose(t, []float32{0.5, 1, 1.5}, x.DivScalar(2).Data(), 1e-6)
}

func TestMathOps(t *testing.T) {
	x := fromSlice(t, []float32{0, 1, 2}, tensor.Shape{3})

	exp := x.Exp().Data()
	for i, v := range []float64{0, 1, 2} {
		assert.InDelta(t, math.Exp(v), exp[i], 1e-5)
	}

	y := fromSlice(t, []float32{1, 4, 9}, tensor.Shape{3})
	assertAllClose(t, []float32{1, 2, 3}, y.Sqrt().Data(), 1e-6)
	assertAllClose(t, []float32{0, float32(math.Log(4)), float32(math.Log(9))}, y.Log().Data(), 1e-5)
}

func TestActivations(t *testing.T) {
	backend := New()
	x := fromSlice(t, []float32{-2, -0.5, 0, 0.5, 2}, tensor.Shape{5})

	sig := backend.Sigmoid(x.Raw()).AsFloat32()
	for i, v := range []float64{-2, -0.5, 0, 0.5, 2} {
		assert.InDelta(t, 1/(1+math.Exp(-v)), sig[i], 1e-5)
	}

	relu := backend.ReLU(x.Raw()).AsFloat32()
	assertAllClose(t, []float32{0, 0, 0, 0.5, 2}, relu, 1e-6)

	elu := backend.ELU(x.Raw()).AsFloat32()
	for i, v := range []float64{-2, -0.5, 0, 0.5, 2} {
		want := v
		if v < 0 {
			want = math.Exp(v) - 1
		}
		assert.InDelta(t, want, elu[i], 1e-5)
	}
}

func TestMatMul(t *testing.T) {
	a := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := fromSlice(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	got := a.MatMul(b)
	require.True(t, got.Shape().Equal(tensor.Shape{2, 2}))
	assertAllClose(t, []float32{58, 64, 139, 154}, got.Data(), 1e-5)
}

func TestMatMulIdentity(t *testing.T) {
	a := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	eye := fromSlice(t, []float32{1, 0, 0, 1}, tensor.Shape{2, 2})

	assertAllClose(t, a.Data(), a.MatMul(eye).Data(), 1e-6)
}

func TestConv2DIdentityKernel(t *testing.T) {
	// 1x1 identity kernel leaves the input unchanged.
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{1, 2, 2, 2})
	k := fromSlice(t, []float32{1, 0, 0, 1}, tensor.Shape{2, 2, 1, 1})

	got := New().Conv2D(x.Raw(), k.Raw(), 1, 0, 1)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 2, 2, 2}))
	assertAllClose(t, x.Data(), got.AsFloat32(), 1e-6)
}

func TestConv2DKnownValues(t *testing.T) {
	// 3x3 all-ones kernel on a 3x3 input with padding 1: each output is the
	// sum of the 3x3 neighborhood, zeros outside.
	x := fromSlice(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	k := fromSlice(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, tensor.Shape{1, 1, 3, 3})

	got := New().Conv2D(x.Raw(), k.Raw(), 1, 1, 1)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 1, 3, 3}))
	assertAllClose(t, []float32{
		12, 21, 16,
		27, 45, 33,
		24, 39, 28,
	}, got.AsFloat32(), 1e-5)
}

func TestConv2DDilation(t *testing.T) {
	// Dilation 2 on a 3x3 kernel reads a 5x5 receptive field; with
	// padding 2 the spatial size is preserved.
	x := fromSlice(t, make([]float32, 25), tensor.Shape{1, 1, 5, 5})
	x.Data()[12] = 1 // center pixel
	k := fromSlice(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3})

	got := New().Conv2D(x.Raw(), k.Raw(), 1, 2, 2)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 1, 5, 5}))

	// The center input contributes kernel value k[i][j] to output position
	// (2 + 2 - 2i, 2 + 2 - 2j) = (4-2i, 4-2j).
	out := got.AsFloat32()
	assert.InDelta(t, 9, out[0*5+0], 1e-6)
	assert.InDelta(t, 5, out[2*5+2], 1e-6)
	assert.InDelta(t, 1, out[4*5+4], 1e-6)
}

func TestSequentialBackendMatchesParallel(t *testing.T) {
	// 8 examples x 8 output channels crosses the chunking threshold, so
	// the default backend shards the kernel loop across goroutines. Each
	// output element is still accumulated by a single goroutine, so the
	// single-threaded backend must produce identical bytes.
	xData := make([]float32, 8*4*6*6)
	for i := range xData {
		xData[i] = float32(i%17) * 0.25
	}
	kData := make([]float32, 8*4*3*3)
	for i := range kData {
		kData[i] = float32(i%11)*0.5 - 2
	}

	x, err := tensor.FromSlice(xData, tensor.Shape{8, 4, 6, 6}, New())
	require.NoError(t, err)
	k, err := tensor.FromSlice(kData, tensor.Shape{8, 4, 3, 3}, New())
	require.NoError(t, err)

	par := New().Conv2D(x.Raw(), k.Raw(), 1, 1, 1)
	seq := NewSequential().Conv2D(x.Raw(), k.Raw(), 1, 1, 1)

	require.True(t, par.Shape().Equal(seq.Shape()))
	assert.Equal(t, par.AsFloat32(), seq.AsFloat32())
}

func TestTranspose(t *testing.T) {
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	got := x.Transpose(1, 0)
	require.True(t, got.Shape().Equal(tensor.Shape{3, 2}))
	assertAllClose(t, []float32{1, 4, 2, 5, 3, 6}, got.Data(), 1e-6)
}

func TestTransposeHigherRank(t *testing.T) {
	x := fromSlice(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, tensor.Shape{2, 2, 2})

	got := x.Transpose(1, 0, 2)
	require.True(t, got.Shape().Equal(tensor.Shape{2, 2, 2}))
	assertAllClose(t, []float32{1, 2, 5, 6, 3, 4, 7, 8}, got.Data(), 1e-6)
}

func TestReshapeSharesData(t *testing.T) {
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	y := x.Reshape(3, 2)
	require.True(t, y.Shape().Equal(tensor.Shape{3, 2}))
	assertAllClose(t, x.Data(), y.Data(), 0)
}

func TestReductions(t *testing.T) {
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	total := x.Sum()
	require.True(t, total.Shape().Equal(tensor.Shape{1}))
	assert.InDelta(t, 21, total.Data()[0], 1e-6)

	rows := x.SumDim(1, false)
	require.True(t, rows.Shape().Equal(tensor.Shape{2}))
	assertAllClose(t, []float32{6, 15}, rows.Data(), 1e-6)

	cols := x.SumDim(0, true)
	require.True(t, cols.Shape().Equal(tensor.Shape{1, 3}))
	assertAllClose(t, []float32{5, 7, 9}, cols.Data(), 1e-6)

	means := x.MeanDim(1, false)
	assertAllClose(t, []float32{2, 5}, means.Data(), 1e-6)
}

func TestCatChunkNarrow(t *testing.T) {
	a := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, []float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	cat0 := tensor.Cat([]*tensor.Tensor[float32, *CPUBackend]{a, b}, 0)
	require.True(t, cat0.Shape().Equal(tensor.Shape{4, 2}))
	assertAllClose(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, cat0.Data(), 0)

	cat1 := tensor.Cat([]*tensor.Tensor[float32, *CPUBackend]{a, b}, 1)
	require.True(t, cat1.Shape().Equal(tensor.Shape{2, 4}))
	assertAllClose(t, []float32{1, 2, 5, 6, 3, 4, 7, 8}, cat1.Data(), 0)

	parts := cat1.Chunk(2, 1)
	require.Len(t, parts, 2)
	assertAllClose(t, a.Data(), parts[0].Data(), 0)
	assertAllClose(t, b.Data(), parts[1].Data(), 0)

	mid := cat0.Narrow(0, 1, 2)
	require.True(t, mid.Shape().Equal(tensor.Shape{2, 2}))
	assertAllClose(t, []float32{3, 4, 5, 6}, mid.Data(), 0)
}

func TestChunkRoundTripOnChannels(t *testing.T) {
	x := fromSlice(t, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, tensor.Shape{1, 4, 1, 2})

	halves := x.Chunk(2, 1)
	back := tensor.Cat(halves, 1)
	assertAllClose(t, x.Data(), back.Data(), 0)
}
