package tensor

// Backend defines the interface that compute backends must implement.
// The surface is the set of operations exercised by the flow engine.
//
// Activation functions (Sigmoid, ELU, ...) are optional capabilities exposed
// through small single-method interfaces in the nn package, so alternative
// backends only implement what they support.
type Backend interface {
	// Name returns the backend name.
	Name() string

	// Device returns the compute device the backend operates on.
	Device() Device

	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations (element-wise with a scalar).
	AddScalar(x *RawTensor, scalar any) *RawTensor
	SubScalar(x *RawTensor, scalar any) *RawTensor
	MulScalar(x *RawTensor, scalar any) *RawTensor
	DivScalar(x *RawTensor, scalar any) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// MatMul multiplies two 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D performs 2D convolution.
	// Input [N, C_in, H, W], kernel [C_out, C_in, K_h, K_w].
	Conv2D(input, kernel *RawTensor, stride, padding, dilation int) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Reduction operations.
	Sum(x *RawTensor) *RawTensor                            // total sum, scalar result
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor  // sum along dimension
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor // mean along dimension

	// Manipulation operations.
	Cat(tensors []*RawTensor, dim int) *RawTensor            // concatenate along dimension
	Chunk(x *RawTensor, n, dim int) []*RawTensor             // split into n equal parts
	Narrow(x *RawTensor, dim, start, length int) *RawTensor  // slice along dimension
}
