package cpu

import (
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// binaryVectorized computes dst = op(a, b) for same-shape operands.
func binaryVectorized[T tensor.DType](dst, a, b []T, op func(T, T) T) {
	for i := range dst {
		dst[i] = op(a[i], b[i])
	}
}

// binaryBroadcast computes dst = op(a, b) with NumPy broadcasting.
// Output coordinates are walked linearly and mapped back into each operand,
// treating size-1 and missing leading dimensions as index 0.
func binaryBroadcast[T tensor.DType](dst, a, b []T, aShape, bShape, outShape tensor.Shape, op func(T, T) T) {
	outStrides := outShape.ComputeStrides()
	aStrides := aShape.ComputeStrides()
	bStrides := bShape.ComputeStrides()
	aOffset := len(outShape) - len(aShape)
	bOffset := len(outShape) - len(bShape)

	coords := make([]int, len(outShape))
	for outIdx := range dst {
		remaining := outIdx
		for i := range outShape {
			coords[i] = remaining / outStrides[i]
			remaining %= outStrides[i]
		}

		dst[outIdx] = op(a[broadcastIndex(coords, aShape, aStrides, aOffset)],
			b[broadcastIndex(coords, bShape, bStrides, bOffset)])
	}
}

// broadcastIndex maps output coordinates into a (possibly smaller) operand.
func broadcastIndex(coords []int, shape tensor.Shape, strides []int, offset int) int {
	idx := 0
	for i := range shape {
		coord := coords[offset+i]
		if shape[i] == 1 {
			coord = 0
		}
		idx += coord * strides[i]
	}
	return idx
}

// unary computes dst = op(x) element-wise.
func unary[T tensor.DType](dst, x []T, op func(T) T) {
	for i := range dst {
		dst[i] = op(x[i])
	}
}
