package faceid

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// attention applies combined spatial and channel attention: the input is
// reweighted by the product of a 7x7-conv spatial map and a squeeze-and-
// excite channel vector.
type attention struct {
	spatial *nn.Sequential
	channel *nn.Sequential

	training bool

	x *tensor.Tensor
	s *tensor.Tensor
	c *tensor.Tensor
	u *tensor.Tensor
}

func newAttention(rng *rand.Rand, prefix string, ch, reduction int) *attention {
	return &attention{
		spatial: nn.NewSequential(
			nn.Named(prefix+".spatial.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: ch, Out: 1, Kernel: 7, Padding: 3})),
			nn.Named(prefix+".spatial.bn", nn.NewBatchNorm2D(1)),
			nn.NewSigmoid(),
		),
		channel: nn.NewSequential(
			nn.NewGlobalAvgPool(),
			nn.Named(prefix+".channel.fc1", nn.NewLinear(rng, ch, ch/reduction)),
			nn.NewReLU(),
			nn.Named(prefix+".channel.fc2", nn.NewLinear(rng, ch/reduction, ch)),
			nn.NewSigmoid(),
		),
	}
}

func (a *attention) forward(x *tensor.Tensor) *tensor.Tensor {
	s := a.spatial.Forward(x)
	c := a.channel.Forward(x)

	u := nn.ScaleSpatial(x, s)
	y := nn.ScaleChannels(u, c)

	if a.training {
		a.x, a.s, a.c, a.u = x, s, c, u
	}

	return y
}

func (a *attention) backward(grad *tensor.Tensor) *tensor.Tensor {
	du, dc := nn.ScaleChannelsBackward(a.u, a.c, grad)
	dx, ds := nn.ScaleSpatialBackward(a.x, a.s, du)

	dx.Add(a.spatial.Backward(ds))
	dx.Add(a.channel.Backward(dc))

	return dx
}

func (a *attention) setTraining(training bool) {
	a.training = training
	a.spatial.SetTraining(training)
	a.channel.SetTraining(training)

	if !training {
		a.x, a.s, a.c, a.u = nil, nil, nil, nil
	}
}

func (a *attention) params() []*nn.Parameter {
	return append(a.spatial.Params(), a.channel.Params()...)
}

func (a *attention) buffers() []*nn.Buffer {
	return append(a.spatial.Buffers(), a.channel.Buffers()...)
}

// arcNet is the face encoder graph: downsampling stages with attention on
// every stage past the first, dual global pooling, and an MLP head that
// ends in L2 normalization. The margin head lives alongside for training.
type arcNet struct {
	stages []*nn.Sequential
	attns  []*attention
	gap    *nn.GlobalAvgPool
	gmp    *nn.GlobalMaxPool
	head   *nn.Sequential
	arc    *ArcMargin

	params  []*nn.Parameter
	buffers []*nn.Buffer

	training bool

	emb   *tensor.Tensor
	norms []float32
}

func newArcNet(cfg Config) *arcNet {
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	net := &arcNet{
		gap: nn.NewGlobalAvgPool(),
		gmp: nn.NewGlobalMaxPool(),
	}

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
			nn.NewMaxPool2D(2, 2),
		))

		if i > 0 {
			net.attns = append(net.attns, newAttention(rng, fmt.Sprintf("attn%d", i), w, cfg.Reduction))
		}

		in = w
	}

	last := cfg.Widths[len(cfg.Widths)-1]

	net.head = nn.NewSequential(
		nn.Named("head.fc1", nn.NewLinear(rng, 2*last, cfg.Hidden)),
		nn.Named("head.bn1", nn.NewBatchNorm1D(cfg.Hidden)),
		nn.NewReLU(),
		nn.NewDropout(rng, cfg.Dropout),
		nn.Named("head.fc2", nn.NewLinear(rng, cfg.Hidden, cfg.EmbeddingSize)),
		nn.Named("head.bn2", nn.NewBatchNorm1D(cfg.EmbeddingSize)),
	)

	net.arc = NewArcMargin(rng, cfg.EmbeddingSize, cfg.NumClasses, cfg.Scale, cfg.Margin)

	for i, st := range net.stages {
		net.params = append(net.params, st.Params()...)
		net.buffers = append(net.buffers, st.Buffers()...)

		if i > 0 {
			net.params = append(net.params, net.attns[i-1].params()...)
			net.buffers = append(net.buffers, net.attns[i-1].buffers()...)
		}
	}
	net.params = append(net.params, net.head.Params()...)
	net.buffers = append(net.buffers, net.head.Buffers()...)
	net.params = append(net.params, net.arc.Param())

	return net
}

func (n *arcNet) setTraining(training bool) {
	n.training = training
	for _, st := range n.stages {
		st.SetTraining(training)
	}
	for _, a := range n.attns {
		a.setTraining(training)
	}
	n.gap.SetTraining(training)
	n.gmp.SetTraining(training)
	n.head.SetTraining(training)

	if !training {
		n.emb = nil
		n.norms = nil
	}
}

// forward returns L2-normalized embeddings (N,E).
func (n *arcNet) forward(x *tensor.Tensor) *tensor.Tensor {
	for i, st := range n.stages {
		x = st.Forward(x)
		if i > 0 {
			x = n.attns[i-1].forward(x)
		}
	}

	cat := nn.ConcatFeatures(n.gap.Forward(x), n.gmp.Forward(x))
	raw := n.head.Forward(cat)

	emb, norms := nn.L2NormalizeRows(raw)

	if n.training {
		n.emb = emb
		n.norms = norms
	}

	return emb
}

func (n *arcNet) backward(dEmb *tensor.Tensor) {
	dRaw := nn.L2NormalizeRowsBackward(dEmb, n.emb, n.norms)
	dCat := n.head.Backward(dRaw)

	last := dCat.Dim(1) / 2
	parts := nn.SplitFeatures(dCat, last, last)

	dx := n.gap.Backward(parts[0])
	dx.Add(n.gmp.Backward(parts[1]))

	for i := len(n.stages) - 1; i >= 0; i-- {
		if i > 0 {
			dx = n.attns[i-1].backward(dx)
		}
		dx = n.stages[i].Backward(dx)
	}
}
