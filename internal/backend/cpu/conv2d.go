package cpu

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/parallel"
	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Conv2D performs 2D convolution.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// where, with d = dilation:
//
//	H_out = (H + 2*padding - d*(K_h-1) - 1)/stride + 1
//	W_out = (W + 2*padding - d*(K_w-1) - 1)/stride + 1
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding, dilation int) *tensor.RawTensor {
	inShape, kShape := input.Shape(), kernel.Shape()
	if len(inShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inShape)))
	}
	if len(kShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kShape)))
	}
	if stride <= 0 || padding < 0 || dilation <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride=%d padding=%d dilation=%d", stride, padding, dilation))
	}

	n, cIn, h, w := inShape[0], inShape[1], inShape[2], inShape[3]
	cOut, cInK, kh, kw := kShape[0], kShape[1], kShape[2], kShape[3]
	if cIn != cInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", cIn, cInK))
	}

	hOut := (h+2*padding-dilation*(kh-1)-1)/stride + 1
	wOut := (w+2*padding-dilation*(kw-1)-1)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", hOut, wOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{n, cOut, hOut, wOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	switch input.DType() {
	case tensor.Float32:
		conv2dDirect(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(),
			n, cIn, h, w, cOut, kh, kw, hOut, wOut, stride, padding, dilation, cpu.par)
	case tensor.Float64:
		conv2dDirect(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(),
			n, cIn, h, w, cOut, kh, kw, hOut, wOut, stride, padding, dilation, cpu.par)
	default:
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	return output
}

// conv2dDirect computes the convolution one (batch, out-channel) plane per
// task. Edge handling uses implicit zero padding.
func conv2dDirect[T tensor.DType](out, in, kernel []T,
	n, cIn, h, w, cOut, kh, kw, hOut, wOut, stride, padding, dilation int, par parallel.Config) {

	parallel.ForBatch(n, cOut, func(b, co int) {
		outPlane := out[(b*cOut+co)*hOut*wOut:]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				var sum T
				for ci := 0; ci < cIn; ci++ {
					inPlane := in[(b*cIn+ci)*h*w:]
					kPlane := kernel[((co*cIn)+ci)*kh*kw:]
					for fh := 0; fh < kh; fh++ {
						ih := oh*stride - padding + fh*dilation
						if ih < 0 || ih >= h {
							continue
						}
						for fw := 0; fw < kw; fw++ {
							iw := ow*stride - padding + fw*dilation
							if iw < 0 || iw >= w {
								continue
							}
							sum += inPlane[ih*w+iw] * kPlane[fh*kw+fw]
						}
					}
				}
				outPlane[oh*wOut+ow] = sum
			}
		}
	}, par)
}
