package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeNumElements(t *testing.T) {
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 0, Shape{3, 0, 2}.NumElements())
}

func TestShapeValidate(t *testing.T) {
	require.NoError(t, Shape{2, 3}.Validate())
	require.Error(t, Shape{2, -1}.Validate())
}

func TestShapeEqual(t *testing.T) {
	assert.True(t, Shape{2, 3}.Equal(Shape{2, 3}))
	assert.False(t, Shape{2, 3}.Equal(Shape{3, 2}))
	assert.False(t, Shape{2, 3}.Equal(Shape{2, 3, 1}))
}

func TestShapeComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Equal(t, []int{1}, Shape{5}.ComputeStrides())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false},
		{"scalar_like", Shape{4, 3}, Shape{1}, Shape{4, 3}, true},
		{"trailing_one", Shape{4, 1}, Shape{4, 5}, Shape{4, 5}, true},
		{"missing_leading", Shape{2, 3, 4}, Shape{4}, Shape{2, 3, 4}, true},
		{"bias_channel", Shape{2, 8, 4, 4}, Shape{1, 8, 1, 1}, Shape{2, 8, 4, 4}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tc.a, tc.b)
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %v, want %v", got, tc.want)
			assert.Equal(t, tc.broadcast, broadcast)
		})
	}
}

func TestBroadcastShapesIncompatible(t *testing.T) {
	_, _, err := BroadcastShapes(Shape{2, 3}, Shape{2, 4})
	require.Error(t, err)
}

func TestRawTensorRoundTrip(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	data := raw.AsFloat32()
	require.Len(t, data, 6)
	for i := range data {
		data[i] = float32(i)
	}

	clone := raw.Clone()
	data[0] = 100
	assert.Equal(t, float32(0), clone.AsFloat32()[0], "clone must not share the buffer")

	view := raw.WithShape(Shape{3, 2})
	assert.True(t, view.Shape().Equal(Shape{3, 2}))
	view.AsFloat32()[1] = 42
	assert.Equal(t, float32(42), raw.AsFloat32()[1], "view must share the buffer")
}

func TestWithShapePanicsOnElementMismatch(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)
	assert.Panics(t, func() { raw.WithShape(Shape{2, 4}) })
}
