// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// Squeeze2d trades spatial resolution for channel depth (space-to-depth):
// [N, C, H, W] -> [N, C*factor^2, H/factor, W/factor].
//
// The channel layout matches the (c, fh, fw) ordering that Unsqueeze2d
// inverts exactly. Spatial dimensions must divide evenly by the factor.
func Squeeze2d[B tensor.Backend](x *tensor.Tensor[float32, B], factor int) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("squeeze2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if factor < 1 {
		panic(fmt.Sprintf("squeeze2d: invalid factor %d", factor))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if h%factor != 0 || w%factor != 0 {
		panic(fmt.Sprintf("squeeze2d: spatial dims %dx%d not divisible by factor %d", h, w, factor))
	}

	hOut, wOut := h/factor, w/factor
	cOut := c * factor * factor
	out := tensor.Zeros[float32](tensor.Shape{n, cOut, hOut, wOut}, x.Backend())

	src, dst := x.Data(), out.Data()
	for b := 0; b < n; b++ {
		for ci := 0; ci < c; ci++ {
			for fh := 0; fh < factor; fh++ {
				for fw := 0; fw < factor; fw++ {
					co := (ci*factor+fh)*factor + fw
					for oh := 0; oh < hOut; oh++ {
						ih := oh*factor + fh
						srcRow := ((b*c+ci)*h + ih) * w
						dstRow := ((b*cOut+co)*hOut + oh) * wOut
						for ow := 0; ow < wOut; ow++ {
							dst[dstRow+ow] = src[srcRow+ow*factor+fw]
						}
					}
				}
			}
		}
	}
	return out
}

// Unsqueeze2d is the exact inverse of Squeeze2d (depth-to-space):
// [N, C*factor^2, H, W] -> [N, C, H*factor, W*factor].
func Unsqueeze2d[B tensor.Backend](x *tensor.Tensor[float32, B], factor int) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("unsqueeze2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if factor < 1 {
		panic(fmt.Sprintf("unsqueeze2d: invalid factor %d", factor))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c%(factor*factor) != 0 {
		panic(fmt.Sprintf("unsqueeze2d: channels %d not divisible by factor^2 = %d", c, factor*factor))
	}

	cOut := c / (factor * factor)
	hOut, wOut := h*factor, w*factor
	out := tensor.Zeros[float32](tensor.Shape{n, cOut, hOut, wOut}, x.Backend())

	src, dst := x.Data(), out.Data()
	for b := 0; b < n; b++ {
		for co := 0; co < cOut; co++ {
			for fh := 0; fh < factor; fh++ {
				for fw := 0; fw < factor; fw++ {
					ci := (co*factor+fh)*factor + fw
					for ih := 0; ih < h; ih++ {
						oh := ih*factor + fh
						srcRow := ((b*c+ci)*h + ih) * w
						dstRow := ((b*cOut+co)*hOut + oh) * wOut
						for iw := 0; iw < w; iw++ {
							dst[dstRow+iw*factor+fw] = src[srcRow+iw]
						}
					}
				}
			}
		}
	}
	return out
}

// Split2d partitions the channel dimension into two equal halves.
func Split2d[B tensor.Backend](x *tensor.Tensor[float32, B]) (z1, z2 *tensor.Tensor[float32, B]) {
	parts := x.Chunk(2, 1)
	return parts[0], parts[1]
}

// Unsplit2d is the exact inverse of Split2d: channel concatenation.
func Unsplit2d[B tensor.Backend](z1, z2 *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.Cat([]*tensor.Tensor[float32, B]{z1, z2}, 1)
}
