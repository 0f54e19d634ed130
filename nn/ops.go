package nn

import (
	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// Functional operations with explicit backward counterparts. The attention
// modules of the perception models route gradients through these by hand
// instead of carrying a general autograd graph.

// ConcatChannels concatenates rank-4 tensors along the channel axis.
// All inputs must share batch size and spatial dimensions.
func ConcatChannels(ts ...*tensor.Tensor) *tensor.Tensor {
	n, h, w := ts[0].Dim(0), ts[0].Dim(2), ts[0].Dim(3)

	totalC := 0
	for _, t := range ts {
		totalC += t.Dim(1)
	}

	out := tensor.New(n, totalC, h, w)
	for ni := 0; ni < n; ni++ {
		c := 0
		for _, t := range ts {
			for ci := 0; ci < t.Dim(1); ci++ {
				copy(out.Plane(ni, c), t.Plane(ni, ci))
				c++
			}
		}
	}

	return out
}

// SplitChannels splits a channel-concatenated gradient back into parts with
// the given channel counts, inverting ConcatChannels.
func SplitChannels(g *tensor.Tensor, channels ...int) []*tensor.Tensor {
	n, h, w := g.Dim(0), g.Dim(2), g.Dim(3)

	parts := make([]*tensor.Tensor, len(channels))
	for i, c := range channels {
		parts[i] = tensor.New(n, c, h, w)
	}

	for ni := 0; ni < n; ni++ {
		c := 0
		for i, part := range parts {
			for ci := 0; ci < channels[i]; ci++ {
				copy(part.Plane(ni, ci), g.Plane(ni, c))
				c++
			}
		}
	}

	return parts
}

// ConcatFeatures concatenates rank-2 tensors along the feature axis.
func ConcatFeatures(ts ...*tensor.Tensor) *tensor.Tensor {
	n := ts[0].Dim(0)

	total := 0
	for _, t := range ts {
		total += t.Dim(1)
	}

	out := tensor.New(n, total)
	for i := 0; i < n; i++ {
		off := 0
		for _, t := range ts {
			off += copy(out.Row(i)[off:], t.Row(i))
		}
	}

	return out
}

// SplitFeatures splits a feature-concatenated gradient back into parts with
// the given widths, inverting ConcatFeatures.
func SplitFeatures(g *tensor.Tensor, widths ...int) []*tensor.Tensor {
	n := g.Dim(0)

	parts := make([]*tensor.Tensor, len(widths))
	for i, w := range widths {
		parts[i] = tensor.New(n, w)
	}

	for i := 0; i < n; i++ {
		off := 0
		for pi, part := range parts {
			copy(part.Row(i), g.Row(i)[off:off+widths[pi]])
			off += widths[pi]
		}
	}

	return parts
}

// ScaleChannels multiplies each spatial plane of x (NCHW) by the per-channel
// factor s (batch, channels).
func ScaleChannels(x, s *tensor.Tensor) *tensor.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	out := tensor.New(x.Shape...)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			f := s.Data[ni*c+ci]
			src := x.Plane(ni, ci)
			dst := out.Plane(ni, ci)
			for i, v := range src {
				dst[i] = v * f
			}
		}
	}

	return out
}

// ScaleChannelsBackward returns the gradients of ScaleChannels with respect
// to x and s.
func ScaleChannelsBackward(x, s, grad *tensor.Tensor) (dx, ds *tensor.Tensor) {
	n, c := x.Dim(0), x.Dim(1)
	dx = tensor.New(x.Shape...)
	ds = tensor.New(n, c)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			f := s.Data[ni*c+ci]
			g := grad.Plane(ni, ci)
			src := x.Plane(ni, ci)
			d := dx.Plane(ni, ci)

			for i := range g {
				d[i] = g[i] * f
			}
			ds.Data[ni*c+ci] = math32.Dot(g, src)
		}
	}

	return dx, ds
}

// ScaleSpatial multiplies every channel of x (NCHW) by the single-channel
// spatial map m (batch, 1, H, W).
func ScaleSpatial(x, m *tensor.Tensor) *tensor.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	out := tensor.New(x.Shape...)

	for ni := 0; ni < n; ni++ {
		mask := m.Plane(ni, 0)
		for ci := 0; ci < c; ci++ {
			src := x.Plane(ni, ci)
			dst := out.Plane(ni, ci)
			for i, v := range src {
				dst[i] = v * mask[i]
			}
		}
	}

	return out
}

// ScaleSpatialBackward returns the gradients of ScaleSpatial with respect to
// x and m.
func ScaleSpatialBackward(x, m, grad *tensor.Tensor) (dx, dm *tensor.Tensor) {
	n, c := x.Dim(0), x.Dim(1)
	dx = tensor.New(x.Shape...)
	dm = tensor.New(m.Shape...)

	for ni := 0; ni < n; ni++ {
		mask := m.Plane(ni, 0)
		dMask := dm.Plane(ni, 0)

		for ci := 0; ci < c; ci++ {
			g := grad.Plane(ni, ci)
			src := x.Plane(ni, ci)
			d := dx.Plane(ni, ci)

			for i := range g {
				d[i] = g[i] * mask[i]
				dMask[i] += g[i] * src[i]
			}
		}
	}

	return dx, dm
}

// ChannelMean reduces NCHW input to (batch, 1, H, W) by averaging over the
// channel axis.
func ChannelMean(x *tensor.Tensor) *tensor.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	out := tensor.New(n, 1, x.Dim(2), x.Dim(3))
	inv := 1 / float32(c)

	for ni := 0; ni < n; ni++ {
		dst := out.Plane(ni, 0)
		for ci := 0; ci < c; ci++ {
			math32.Axpy(inv, x.Plane(ni, ci), dst)
		}
	}

	return out
}

// ChannelMeanBackward spreads the (batch, 1, H, W) gradient evenly over
// channels channels.
func ChannelMeanBackward(grad *tensor.Tensor, channels int) *tensor.Tensor {
	n := grad.Dim(0)
	dx := tensor.New(n, channels, grad.Dim(2), grad.Dim(3))
	inv := 1 / float32(channels)

	for ni := 0; ni < n; ni++ {
		g := grad.Plane(ni, 0)
		for ci := 0; ci < channels; ci++ {
			math32.Axpy(inv, g, dx.Plane(ni, ci))
		}
	}

	return dx
}

// ChannelMax reduces NCHW input to (batch, 1, H, W) by taking the maximum
// over the channel axis. The second return value records the winning channel
// per spatial position for the backward pass.
func ChannelMax(x *tensor.Tensor) (*tensor.Tensor, []int32) {
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	out := tensor.New(n, 1, h, w)
	argmax := make([]int32, n*h*w)

	for ni := 0; ni < n; ni++ {
		dst := out.Plane(ni, 0)
		copy(dst, x.Plane(ni, 0))

		for ci := 1; ci < c; ci++ {
			src := x.Plane(ni, ci)
			for i, v := range src {
				if v > dst[i] {
					dst[i] = v
					argmax[ni*h*w+i] = int32(ci)
				}
			}
		}
	}

	return out, argmax
}

// ChannelMaxBackward scatters the (batch, 1, H, W) gradient to the winning
// channels recorded by ChannelMax.
func ChannelMaxBackward(grad *tensor.Tensor, argmax []int32, channels int) *tensor.Tensor {
	n, h, w := grad.Dim(0), grad.Dim(2), grad.Dim(3)
	dx := tensor.New(n, channels, h, w)

	for ni := 0; ni < n; ni++ {
		g := grad.Plane(ni, 0)
		for i, gv := range g {
			dx.Plane(ni, int(argmax[ni*h*w+i]))[i] = gv
		}
	}

	return dx
}
