package nn

import (
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// SigmoidBackend is implemented by backends that support the logistic
// function.
type SigmoidBackend interface {
	Sigmoid(*tensor.RawTensor) *tensor.RawTensor
}

// ELUBackend is implemented by backends that support the exponential linear
// unit.
type ELUBackend interface {
	ELU(*tensor.RawTensor) *tensor.RawTensor
}

// ReLUBackend is implemented by backends that support ReLU.
type ReLUBackend interface {
	ReLU(*tensor.RawTensor) *tensor.RawTensor
}

// TanhBackend is implemented by backends that support Tanh.
type TanhBackend interface {
	Tanh(*tensor.RawTensor) *tensor.RawTensor
}

// Sigmoid applies the logistic function element-wise: σ(x) = 1/(1+exp(-x)).
func Sigmoid[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if sb, ok := any(backend).(SigmoidBackend); ok {
		return tensor.New[float32, B](sb.Sigmoid(x.Raw()), backend)
	}
	panic("sigmoid: backend does not implement the Sigmoid operation")
}

// ELU applies the exponential linear unit element-wise:
// x for x > 0, exp(x)-1 otherwise. The bounded negative tail keeps coupling
// networks stable.
func ELU[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if eb, ok := any(backend).(ELUBackend); ok {
		return tensor.New[float32, B](eb.ELU(x.Raw()), backend)
	}
	panic("elu: backend does not implement the ELU operation")
}

// ReLU applies max(0, x) element-wise.
func ReLU[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if rb, ok := any(backend).(ReLUBackend); ok {
		return tensor.New[float32, B](rb.ReLU(x.Raw()), backend)
	}
	panic("relu: backend does not implement the ReLU operation")
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := x.Backend()
	if tb, ok := any(backend).(TanhBackend); ok {
		return tensor.New[float32, B](tb.Tanh(x.Raw()), backend)
	}
	panic("tanh: backend does not implement the Tanh operation")
}
