package cpu

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// normalizeDim resolves negative dimension indexing.
func normalizeDim(name string, dim, ndim int) int {
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("%s: dimension %d out of range for %dD tensor", name, dim, ndim))
	}
	return dim
}

// Cat concatenates tensors along the specified dimension.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	first := tensors[0]
	dim = normalizeDim("cat", dim, len(first.Shape()))

	outShape := first.Shape().Clone()
	for _, t := range tensors[1:] {
		shape := t.Shape()
		if len(shape) != len(outShape) {
			panic(fmt.Sprintf("cat: rank mismatch %v vs %v", first.Shape(), shape))
		}
		for i := range shape {
			if i == dim {
				continue
			}
			if shape[i] != outShape[i] {
				panic(fmt.Sprintf("cat: shape mismatch at dim %d: %v vs %v", i, first.Shape(), shape))
			}
		}
		if t.DType() != first.DType() {
			panic(fmt.Sprintf("cat: dtype mismatch %s vs %s", first.DType(), t.DType()))
		}
		outShape[dim] += shape[dim]
	}

	result, err := tensor.NewRaw(outShape, first.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	// Copy block-wise: each tensor contributes contiguous runs of
	// shape[dim]*inner elements per outer index.
	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= outShape[i]
	}
	for i := dim + 1; i < len(outShape); i++ {
		inner *= outShape[i]
	}

	elemSize := first.DType().Size()
	dst := result.Bytes()
	outRow := outShape[dim] * inner * elemSize

	offset := 0
	for _, t := range tensors {
		src := t.Bytes()
		row := t.Shape()[dim] * inner * elemSize
		for o := 0; o < outer; o++ {
			copy(dst[o*outRow+offset:o*outRow+offset+row], src[o*row:(o+1)*row])
		}
		offset += row
	}

	return result
}

// Chunk splits the tensor into n equal parts along the specified dimension.
func (cpu *CPUBackend) Chunk(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	dim = normalizeDim("chunk", dim, len(x.Shape()))
	size := x.Shape()[dim]
	if n <= 0 || size%n != 0 {
		panic(fmt.Sprintf("chunk: dimension %d of size %d not divisible into %d parts", dim, size, n))
	}

	part := size / n
	parts := make([]*tensor.RawTensor, n)
	for i := range parts {
		parts[i] = cpu.Narrow(x, dim, i*part, part)
	}
	return parts
}

// Narrow slices the tensor along dim, keeping [start, start+length).
// The result is materialized contiguously.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim("narrow", dim, len(shape))
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dimension %d of size %d",
			start, start+length, dim, shape[dim]))
	}

	outShape := shape.Clone()
	outShape[dim] = length

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}

	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}

	elemSize := x.DType().Size()
	src, dst := x.Bytes(), result.Bytes()
	srcRow := shape[dim] * inner * elemSize
	dstRow := length * inner * elemSize
	srcOff := start * inner * elemSize

	for o := 0; o < outer; o++ {
		copy(dst[o*dstRow:(o+1)*dstRow], src[o*srcRow+srcOff:o*srcRow+srcOff+dstRow])
	}

	return result
}
