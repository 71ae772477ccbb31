package cpu

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// scalarOp runs an element-wise operation between a tensor and a scalar.
func (cpu *CPUBackend) scalarOp(name string, x *tensor.RawTensor, scalar any,
	f32 func(x, s float32) float32, f64 func(x, s float64) float64) *tensor.RawTensor {

	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	switch x.DType() {
	case tensor.Float32:
		s := toFloat64(name, scalar)
		src, dst := x.AsFloat32(), result.AsFloat32()
		for i := range dst {
			dst[i] = f32(src[i], float32(s))
		}
	case tensor.Float64:
		s := toFloat64(name, scalar)
		src, dst := x.AsFloat64(), result.AsFloat64()
		for i := range dst {
			dst[i] = f64(src[i], s)
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}

// toFloat64 normalizes the accepted scalar types.
func toFloat64(name string, scalar any) float64 {
	switch s := scalar.(type) {
	case float32:
		return float64(s)
	case float64:
		return s
	case int:
		return float64(s)
	default:
		panic(fmt.Sprintf("%s: unsupported scalar type %T", name, scalar))
	}
}

// AddScalar adds a scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("addscalar", x, scalar,
		func(x, s float32) float32 { return x + s },
		func(x, s float64) float64 { return x + s })
}

// SubScalar subtracts a scalar from every element.
func (cpu *CPUBackend) SubScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("subscalar", x, scalar,
		func(x, s float32) float32 { return x - s },
		func(x, s float64) float64 { return x - s })
}

// MulScalar multiplies every element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("mulscalar", x, scalar,
		func(x, s float32) float32 { return x * s },
		func(x, s float64) float64 { return x * s })
}

// DivScalar divides every element by a scalar.
func (cpu *CPUBackend) DivScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("divscalar", x, scalar,
		func(x, s float32) float32 { return x / s },
		func(x, s float64) float64 { return x / s })
}
