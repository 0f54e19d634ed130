package nn

import (
	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

const (
	bnEps      = 1e-5
	bnMomentum = 0.1
)

// BatchNorm2D normalizes each channel of NCHW input over the batch and
// spatial dimensions. Training mode normalizes with batch statistics and
// updates running statistics; inference mode uses the running statistics.
type BatchNorm2D struct {
	base
	ch          int
	gamma, beta *Parameter
	runMean     *Buffer
	runVar      *Buffer

	xhat   *tensor.Tensor
	invStd []float32
}

// NewBatchNorm2D creates a batch norm layer for ch channels.
func NewBatchNorm2D(ch int) *BatchNorm2D {
	return &BatchNorm2D{
		ch:      ch,
		gamma:   NewParameter("gamma", tensor.Full(1, ch)),
		beta:    NewParameter("beta", tensor.New(ch)),
		runMean: &Buffer{Name: "running_mean", Data: tensor.New(ch)},
		runVar:  &Buffer{Name: "running_var", Data: tensor.Full(1, ch)},
	}
}

func (l *BatchNorm2D) Params() []*Parameter {
	return []*Parameter{l.gamma, l.beta}
}

func (l *BatchNorm2D) Buffers() []*Buffer {
	return []*Buffer{l.runMean, l.runVar}
}

func (l *BatchNorm2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	n := x.Dim(0)
	out := tensor.New(x.Shape...)

	if !l.training {
		for c := 0; c < l.ch; c++ {
			scale := l.gamma.Data.Data[c] / math32.Sqrt(l.runVar.Data.Data[c]+bnEps)
			shift := l.beta.Data.Data[c] - scale*l.runMean.Data.Data[c]

			for ni := 0; ni < n; ni++ {
				src := x.Plane(ni, c)
				dst := out.Plane(ni, c)
				for i := range src {
					dst[i] = scale*src[i] + shift
				}
			}
		}

		return out
	}

	hw := x.Dim(2) * x.Dim(3)
	m := float32(n * hw)

	l.xhat = tensor.New(x.Shape...)
	l.invStd = make([]float32, l.ch)

	for c := 0; c < l.ch; c++ {
		var sum float32
		for ni := 0; ni < n; ni++ {
			sum += math32.Sum(x.Plane(ni, c))
		}
		mean := sum / m

		var ss float32
		for ni := 0; ni < n; ni++ {
			for _, v := range x.Plane(ni, c) {
				d := v - mean
				ss += d * d
			}
		}
		variance := ss / m
		invStd := 1 / math32.Sqrt(variance+bnEps)
		l.invStd[c] = invStd

		gamma, beta := l.gamma.Data.Data[c], l.beta.Data.Data[c]
		for ni := 0; ni < n; ni++ {
			src := x.Plane(ni, c)
			xh := l.xhat.Plane(ni, c)
			dst := out.Plane(ni, c)
			for i := range src {
				xh[i] = (src[i] - mean) * invStd
				dst[i] = gamma*xh[i] + beta
			}
		}

		// Unbiased variance feeds the running estimate.
		runVar := variance
		if m > 1 {
			runVar = variance * m / (m - 1)
		}
		l.runMean.Data.Data[c] = (1-bnMomentum)*l.runMean.Data.Data[c] + bnMomentum*mean
		l.runVar.Data.Data[c] = (1-bnMomentum)*l.runVar.Data.Data[c] + bnMomentum*runVar
	}

	return out
}

func (l *BatchNorm2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	n := grad.Dim(0)
	hw := grad.Dim(2) * grad.Dim(3)
	m := float32(n * hw)
	dx := tensor.New(grad.Shape...)

	for c := 0; c < l.ch; c++ {
		var dBeta, dGamma float32
		for ni := 0; ni < n; ni++ {
			g := grad.Plane(ni, c)
			xh := l.xhat.Plane(ni, c)
			dBeta += math32.Sum(g)
			dGamma += math32.Dot(g, xh)
		}

		l.gamma.Grad.Data[c] += dGamma
		l.beta.Grad.Data[c] += dBeta

		k := l.gamma.Data.Data[c] * l.invStd[c] / m
		for ni := 0; ni < n; ni++ {
			g := grad.Plane(ni, c)
			xh := l.xhat.Plane(ni, c)
			d := dx.Plane(ni, c)
			for i := range g {
				d[i] = k * (m*g[i] - dBeta - xh[i]*dGamma)
			}
		}
	}

	return dx
}

// BatchNorm1D normalizes each feature of (batch, features) input over the
// batch dimension. Same train/eval semantics as BatchNorm2D.
type BatchNorm1D struct {
	base
	ch          int
	gamma, beta *Parameter
	runMean     *Buffer
	runVar      *Buffer

	xhat   *tensor.Tensor
	invStd []float32
}

// NewBatchNorm1D creates a batch norm layer for ch features.
func NewBatchNorm1D(ch int) *BatchNorm1D {
	return &BatchNorm1D{
		ch:      ch,
		gamma:   NewParameter("gamma", tensor.Full(1, ch)),
		beta:    NewParameter("beta", tensor.New(ch)),
		runMean: &Buffer{Name: "running_mean", Data: tensor.New(ch)},
		runVar:  &Buffer{Name: "running_var", Data: tensor.Full(1, ch)},
	}
}

func (l *BatchNorm1D) Params() []*Parameter {
	return []*Parameter{l.gamma, l.beta}
}

func (l *BatchNorm1D) Buffers() []*Buffer {
	return []*Buffer{l.runMean, l.runVar}
}

func (l *BatchNorm1D) Forward(x *tensor.Tensor) *tensor.Tensor {
	n := x.Dim(0)
	out := tensor.New(x.Shape...)

	if !l.training {
		for c := 0; c < l.ch; c++ {
			scale := l.gamma.Data.Data[c] / math32.Sqrt(l.runVar.Data.Data[c]+bnEps)
			shift := l.beta.Data.Data[c] - scale*l.runMean.Data.Data[c]
			for ni := 0; ni < n; ni++ {
				out.Data[ni*l.ch+c] = scale*x.Data[ni*l.ch+c] + shift
			}
		}

		return out
	}

	m := float32(n)
	l.xhat = tensor.New(x.Shape...)
	l.invStd = make([]float32, l.ch)

	for c := 0; c < l.ch; c++ {
		var sum float32
		for ni := 0; ni < n; ni++ {
			sum += x.Data[ni*l.ch+c]
		}
		mean := sum / m

		var ss float32
		for ni := 0; ni < n; ni++ {
			d := x.Data[ni*l.ch+c] - mean
			ss += d * d
		}
		variance := ss / m
		invStd := 1 / math32.Sqrt(variance+bnEps)
		l.invStd[c] = invStd

		gamma, beta := l.gamma.Data.Data[c], l.beta.Data.Data[c]
		for ni := 0; ni < n; ni++ {
			xh := (x.Data[ni*l.ch+c] - mean) * invStd
			l.xhat.Data[ni*l.ch+c] = xh
			out.Data[ni*l.ch+c] = gamma*xh + beta
		}

		runVar := variance
		if m > 1 {
			runVar = variance * m / (m - 1)
		}
		l.runMean.Data.Data[c] = (1-bnMomentum)*l.runMean.Data.Data[c] + bnMomentum*mean
		l.runVar.Data.Data[c] = (1-bnMomentum)*l.runVar.Data.Data[c] + bnMomentum*runVar
	}

	return out
}

func (l *BatchNorm1D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	n := grad.Dim(0)
	m := float32(n)
	dx := tensor.New(grad.Shape...)

	for c := 0; c < l.ch; c++ {
		var dBeta, dGamma float32
		for ni := 0; ni < n; ni++ {
			g := grad.Data[ni*l.ch+c]
			dBeta += g
			dGamma += g * l.xhat.Data[ni*l.ch+c]
		}

		l.gamma.Grad.Data[c] += dGamma
		l.beta.Grad.Data[c] += dBeta

		k := l.gamma.Data.Data[c] * l.invStd[c] / m
		for ni := 0; ni < n; ni++ {
			g := grad.Data[ni*l.ch+c]
			xh := l.xhat.Data[ni*l.ch+c]
			dx.Data[ni*l.ch+c] = k * (m*g - dBeta - xh*dGamma)
		}
	}

	return dx
}
