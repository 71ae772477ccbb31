package cpu

import (
	"fmt"
	"math"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// mathOp runs an element-wise math function.
func (cpu *CPUBackend) mathOp(name string, x *tensor.RawTensor, f func(float64) float64) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	switch x.DType() {
	case tensor.Float32:
		unary(result.AsFloat32(), x.AsFloat32(), func(v float32) float32 { return float32(f(float64(v))) })
	case tensor.Float64:
		unary(result.AsFloat64(), x.AsFloat64(), f)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}

// Exp applies the element-wise exponential.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("exp", x, math.Exp)
}

// Log applies the element-wise natural logarithm.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("log", x, math.Log)
}

// Sqrt applies the element-wise square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("sqrt", x, math.Sqrt)
}

// Sigmoid applies the logistic function. Exposed through the nn package's
// SigmoidBackend capability interface.
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("sigmoid", x, func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	})
}

// Tanh applies the hyperbolic tangent.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("tanh", x, math.Tanh)
}

// ReLU applies max(0, x).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("relu", x, func(v float64) float64 {
		return math.Max(0, v)
	})
}

// ELU applies the exponential linear unit: x for x > 0, exp(x)-1 otherwise.
func (cpu *CPUBackend) ELU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mathOp("elu", x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return math.Exp(v) - 1
	})
}
