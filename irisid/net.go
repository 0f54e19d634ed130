package irisid

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// cbam is a convolutional block attention module: channel attention from
// dual-pooled descriptors through a shared bottleneck, then spatial
// attention from channel statistics of the reweighted map.
type cbam struct {
	avg     *nn.GlobalAvgPool
	max     *nn.GlobalMaxPool
	fc      *nn.Sequential
	spatial *nn.Sequential

	channels int
	training bool

	x      *tensor.Tensor
	c      *tensor.Tensor
	u      *tensor.Tensor
	m      *tensor.Tensor
	argmax []int32
}

func newCBAM(rng *rand.Rand, prefix string, ch, reduction int) *cbam {
	return &cbam{
		avg: nn.NewGlobalAvgPool(),
		max: nn.NewGlobalMaxPool(),
		fc: nn.NewSequential(
			nn.Named(prefix+".fc1", nn.NewLinear(rng, ch, ch/reduction)),
			nn.NewReLU(),
			nn.Named(prefix+".fc2", nn.NewLinear(rng, ch/reduction, ch)),
		),
		spatial: nn.NewSequential(
			nn.Named(prefix+".spatial.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: 2, Out: 1, Kernel: 7, Padding: 3})),
			nn.Named(prefix+".spatial.bn", nn.NewBatchNorm2D(1)),
			nn.NewSigmoid(),
		),
		channels: ch,
	}
}

// stackRows concatenates two (N,C) tensors along the batch axis so the
// shared bottleneck runs once over both pooled descriptors.
func stackRows(a, b *tensor.Tensor) *tensor.Tensor {
	n, c := a.Dim(0), a.Dim(1)

	out := tensor.New(2*n, c)
	copy(out.Data, a.Data)
	copy(out.Data[n*c:], b.Data)

	return out
}

func (b *cbam) forward(x *tensor.Tensor) *tensor.Tensor {
	n, ch := x.Dim(0), x.Dim(1)

	// Channel attention: sigmoid of the summed bottleneck outputs for the
	// average- and max-pooled descriptors.
	pooled := stackRows(b.avg.Forward(x), b.max.Forward(x))
	o := b.fc.Forward(pooled)

	c := tensor.New(n, ch)
	for i := range c.Data {
		c.Data[i] = sigmoid(o.Data[i] + o.Data[n*ch+i])
	}

	u := nn.ScaleChannels(x, c)

	// Spatial attention over the channel-attended map.
	mean := nn.ChannelMean(u)
	peak, argmax := nn.ChannelMax(u)
	m := b.spatial.Forward(nn.ConcatChannels(mean, peak))

	if b.training {
		b.x, b.c, b.u, b.m = x, c, u, m
		b.argmax = argmax
	}

	return nn.ScaleSpatial(u, m)
}

func (b *cbam) backward(grad *tensor.Tensor) *tensor.Tensor {
	du, dm := nn.ScaleSpatialBackward(b.u, b.m, grad)

	parts := nn.SplitChannels(b.spatial.Backward(dm), 1, 1)
	du.Add(nn.ChannelMeanBackward(parts[0], b.channels))
	du.Add(nn.ChannelMaxBackward(parts[1], b.argmax, b.channels))

	dx, dc := nn.ScaleChannelsBackward(b.x, b.c, du)

	// Through the sigmoid and the shared bottleneck; both pooled
	// descriptors see the same upstream gradient.
	n, ch := dc.Dim(0), dc.Dim(1)
	dStacked := tensor.New(2*n, ch)
	for i := range dc.Data {
		g := dc.Data[i] * b.c.Data[i] * (1 - b.c.Data[i])
		dStacked.Data[i] = g
		dStacked.Data[n*ch+i] = g
	}

	dPooled := b.fc.Backward(dStacked)

	dAvg := tensor.New(n, ch)
	copy(dAvg.Data, dPooled.Data[:n*ch])
	dMax := tensor.New(n, ch)
	copy(dMax.Data, dPooled.Data[n*ch:])

	dx.Add(b.avg.Backward(dAvg))
	dx.Add(b.max.Backward(dMax))

	return dx
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

func (b *cbam) setTraining(training bool) {
	b.training = training
	b.avg.SetTraining(training)
	b.max.SetTraining(training)
	b.fc.SetTraining(training)
	b.spatial.SetTraining(training)

	if !training {
		b.x, b.c, b.u, b.m = nil, nil, nil, nil
		b.argmax = nil
	}
}

func (b *cbam) params() []*nn.Parameter {
	return append(b.fc.Params(), b.spatial.Params()...)
}

func (b *cbam) buffers() []*nn.Buffer {
	return b.spatial.Buffers()
}

// irisNet is the iris encoder graph: a downsampling backbone whose stage
// outputs are tapped through CBAM blocks, globally pooled, concatenated
// and projected to the embedding. The attention taps feed the embedding
// only; the backbone chain itself runs unattended.
type irisNet struct {
	stages []*nn.Sequential
	pools  []*nn.MaxPool2D
	attns  []*cbam
	taps   []*nn.GlobalAvgPool
	head   *nn.Sequential

	widths []int

	params  []*nn.Parameter
	buffers []*nn.Buffer

	training bool

	emb   *tensor.Tensor
	norms []float32
}

func newIrisNet(cfg Config) *irisNet {
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	net := &irisNet{widths: cfg.Widths}

	in := 3
	for i, w := range cfg.Widths {
		p := fmt.Sprintf("stage%d", i+1)

		net.stages = append(net.stages, nn.NewSequential(
			nn.Named(p+".conv1", nn.NewConv2D(rng, nn.Conv2DConfig{In: in, Out: w, Kernel: 3, Padding: 1})),
			nn.Named(p+".bn1", nn.NewBatchNorm2D(w)),
			nn.NewReLU(),
			nn.Named(p+".conv2", nn.NewConv2D(rng, nn.Conv2DConfig{In: w, Out: w, Kernel: 3, Padding: 1})),
			nn.Named(p+".bn2", nn.NewBatchNorm2D(w)),
			nn.NewReLU(),
		))

		if i > 0 {
			net.pools = append(net.pools, nn.NewMaxPool2D(2, 2))
		}

		net.attns = append(net.attns, newCBAM(rng, fmt.Sprintf("cbam%d", i+1), w, cfg.Reduction))
		net.taps = append(net.taps, nn.NewGlobalAvgPool())

		in = w
	}

	sum := 0
	for _, w := range cfg.Widths {
		sum += w
	}

	net.head = nn.NewSequential(
		nn.Named("head.fc1", nn.NewLinear(rng, sum, cfg.Hidden)),
		nn.Named("head.bn1", nn.NewBatchNorm1D(cfg.Hidden)),
		nn.NewReLU(),
		nn.NewDropout(rng, cfg.Dropout),
		nn.Named("head.fc2", nn.NewLinear(rng, cfg.Hidden, cfg.EmbeddingSize)),
		nn.Named("head.bn2", nn.NewBatchNorm1D(cfg.EmbeddingSize)),
	)

	for i, st := range net.stages {
		net.params = append(net.params, st.Params()...)
		net.buffers = append(net.buffers, st.Buffers()...)
		net.params = append(net.params, net.attns[i].params()...)
		net.buffers = append(net.buffers, net.attns[i].buffers()...)
	}
	net.params = append(net.params, net.head.Params()...)
	net.buffers = append(net.buffers, net.head.Buffers()...)

	return net
}

func (n *irisNet) setTraining(training bool) {
	n.training = training
	for i, st := range n.stages {
		st.SetTraining(training)
		n.attns[i].setTraining(training)
		n.taps[i].SetTraining(training)
	}
	for _, p := range n.pools {
		p.SetTraining(training)
	}
	n.head.SetTraining(training)

	if !training {
		n.emb = nil
		n.norms = nil
	}
}

// forward returns L2-normalized embeddings (N,E).
func (n *irisNet) forward(x *tensor.Tensor) *tensor.Tensor {
	pooled := make([]*tensor.Tensor, len(n.stages))
	for i, st := range n.stages {
		if i > 0 {
			x = n.pools[i-1].Forward(x)
		}
		x = st.Forward(x)

		pooled[i] = n.taps[i].Forward(n.attns[i].forward(x))
	}

	raw := n.head.Forward(nn.ConcatFeatures(pooled...))

	emb, norms := nn.L2NormalizeRows(raw)

	if n.training {
		n.emb = emb
		n.norms = norms
	}

	return emb
}

func (n *irisNet) backward(dEmb *tensor.Tensor) {
	dRaw := nn.L2NormalizeRowsBackward(dEmb, n.emb, n.norms)
	parts := nn.SplitFeatures(n.head.Backward(dRaw), n.widths...)

	var down *tensor.Tensor
	for i := len(n.stages) - 1; i >= 0; i-- {
		dStage := n.attns[i].backward(n.taps[i].Backward(parts[i]))
		if down != nil {
			dStage.Add(down)
		}

		dIn := n.stages[i].Backward(dStage)
		if i > 0 {
			down = n.pools[i-1].Backward(dIn)
		}
	}
}
