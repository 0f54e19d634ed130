package irisseg

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// attnGate suppresses irrelevant encoder features before they rejoin the
// decoder: a relevance map is computed from the decoder signal g and the
// skip features, and the skip is multiplied by it.
type attnGate struct {
	wg  *nn.Sequential
	wx  *nn.Sequential
	psi *nn.Sequential

	training bool

	skip *tensor.Tensor
	m    *tensor.Tensor
}

func newAttnGate(rng *rand.Rand, prefix string, gCh, skipCh, interCh int) *attnGate {
	return &attnGate{
		wg: nn.NewSequential(
			nn.Named(prefix+".wg.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: gCh, Out: interCh, Kernel: 1})),
			nn.Named(prefix+".wg.bn", nn.NewBatchNorm2D(interCh)),
		),
		wx: nn.NewSequential(
			nn.Named(prefix+".wx.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: skipCh, Out: interCh, Kernel: 1})),
			nn.Named(prefix+".wx.bn", nn.NewBatchNorm2D(interCh)),
		),
		psi: nn.NewSequential(
			nn.NewReLU(),
			nn.Named(prefix+".psi.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: interCh, Out: 1, Kernel: 1})),
			nn.Named(prefix+".psi.bn", nn.NewBatchNorm2D(1)),
			nn.NewSigmoid(),
		),
	}
}

func (a *attnGate) forward(g, skip *tensor.Tensor) *tensor.Tensor {
	sum := a.wg.Forward(g)
	sum.Add(a.wx.Forward(skip))

	m := a.psi.Forward(sum)

	if a.training {
		a.skip, a.m = skip, m
	}

	return nn.ScaleSpatial(skip, m)
}

// backward routes the gated-skip gradient to the decoder signal and the
// raw skip features.
func (a *attnGate) backward(grad *tensor.Tensor) (dg, dSkip *tensor.Tensor) {
	dSkip, dm := nn.ScaleSpatialBackward(a.skip, a.m, grad)

	dsum := a.psi.Backward(dm)

	dg = a.wg.Backward(dsum)
	dSkip.Add(a.wx.Backward(dsum))

	return dg, dSkip
}

func (a *attnGate) setTraining(training bool) {
	a.training = training
	a.wg.SetTraining(training)
	a.wx.SetTraining(training)
	a.psi.SetTraining(training)

	if !training {
		a.skip, a.m = nil, nil
	}
}

func (a *attnGate) params() []*nn.Parameter {
	p := append(a.wg.Params(), a.wx.Params()...)
	return append(p, a.psi.Params()...)
}

func (a *attnGate) buffers() []*nn.Buffer {
	b := append(a.wg.Buffers(), a.wx.Buffers()...)
	return append(b, a.psi.Buffers()...)
}

// segNet is the attention U-Net graph: an encoder pyramid, four decoder
// stages that upsample, gate the matching skip and convolve, a deep
// supervision head per decoder stage and a final full-resolution mask
// head.
type segNet struct {
	enc   []*nn.Sequential
	pools []*nn.MaxPool2D
	ups   []*nn.UpsampleBilinear
	gates []*attnGate
	dec   []*nn.Sequential
	deep  []*nn.Sequential
	final *nn.Sequential

	// Channel widths entering each decoder concat, fixed by the config.
	upWidths   []int
	skipWidths []int

	params  []*nn.Parameter
	buffers []*nn.Buffer

	training bool
}

func convBlock(rng *rand.Rand, prefix string, in, out int) *nn.Sequential {
	return nn.NewSequential(
		nn.Named(prefix+".conv1", nn.NewConv2D(rng, nn.Conv2DConfig{In: in, Out: out, Kernel: 3, Padding: 1})),
		nn.Named(prefix+".bn1", nn.NewBatchNorm2D(out)),
		nn.NewReLU(),
		nn.Named(prefix+".conv2", nn.NewConv2D(rng, nn.Conv2DConfig{In: out, Out: out, Kernel: 3, Padding: 1})),
		nn.Named(prefix+".bn2", nn.NewBatchNorm2D(out)),
		nn.NewReLU(),
	)
}

func newSegNet(cfg Config) *segNet {
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	net := &segNet{}

	in := 3
	for i, w := range cfg.Widths {
		net.enc = append(net.enc, convBlock(rng, fmt.Sprintf("enc%d", i+1), in, w))
		if i > 0 {
			net.pools = append(net.pools, nn.NewMaxPool2D(2, 2))
		}

		in = w
	}

	// Decoder: deepest feature upsampled back to full resolution, one
	// stage per skip, widths mirroring the encoder.
	g := cfg.Widths[len(cfg.Widths)-1]
	for d := 0; d < len(cfg.Widths)-1; d++ {
		skipIdx := len(cfg.Widths) - 2 - d
		skip := cfg.Widths[skipIdx]
		p := fmt.Sprintf("dec%d", d+1)

		net.ups = append(net.ups, nn.NewUpsampleBilinear(2))
		net.gates = append(net.gates, newAttnGate(rng, fmt.Sprintf("gate%d", d+1), g, skip, skip))
		net.dec = append(net.dec, convBlock(rng, p, g+skip, skip))
		net.deep = append(net.deep, nn.NewSequential(
			nn.Named(fmt.Sprintf("deep%d.conv", d+1), nn.NewConv2D(rng, nn.Conv2DConfig{In: skip, Out: 1, Kernel: 1})),
			nn.NewSigmoid(),
		))

		net.upWidths = append(net.upWidths, g)
		net.skipWidths = append(net.skipWidths, skip)

		g = skip
	}

	net.final = nn.NewSequential(
		nn.Named("final.conv", nn.NewConv2D(rng, nn.Conv2DConfig{In: cfg.Widths[0], Out: 1, Kernel: 1})),
		nn.NewSigmoid(),
	)

	for _, e := range net.enc {
		net.params = append(net.params, e.Params()...)
		net.buffers = append(net.buffers, e.Buffers()...)
	}
	for d := range net.dec {
		net.params = append(net.params, net.gates[d].params()...)
		net.buffers = append(net.buffers, net.gates[d].buffers()...)
		net.params = append(net.params, net.dec[d].Params()...)
		net.buffers = append(net.buffers, net.dec[d].Buffers()...)
		net.params = append(net.params, net.deep[d].Params()...)
	}
	net.params = append(net.params, net.final.Params()...)

	return net
}

func (n *segNet) setTraining(training bool) {
	n.training = training
	for _, e := range n.enc {
		e.SetTraining(training)
	}
	for _, p := range n.pools {
		p.SetTraining(training)
	}
	for d := range n.dec {
		n.ups[d].SetTraining(training)
		n.gates[d].setTraining(training)
		n.dec[d].SetTraining(training)
		n.deep[d].SetTraining(training)
	}
	n.final.SetTraining(training)
}

// forward returns the full-resolution mask and the deep supervision maps,
// shallowest-resolution first.
func (n *segNet) forward(x *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor) {
	feats := make([]*tensor.Tensor, len(n.enc))
	for i, e := range n.enc {
		if i > 0 {
			x = n.pools[i-1].Forward(x)
		}
		x = e.Forward(x)
		feats[i] = x
	}

	deep := make([]*tensor.Tensor, len(n.dec))
	for d := range n.dec {
		x = n.ups[d].Forward(x)

		gated := n.gates[d].forward(x, feats[len(feats)-2-d])

		x = n.dec[d].Forward(nn.ConcatChannels(x, gated))
		deep[d] = n.deep[d].Forward(x)
	}

	return n.final.Forward(x), deep
}

// backward accumulates gradients for the final-mask gradient plus one
// gradient per deep supervision map.
func (n *segNet) backward(dFinal *tensor.Tensor, dDeep []*tensor.Tensor) {
	skipGrads := make([]*tensor.Tensor, len(n.dec))

	dx := n.final.Backward(dFinal)

	for d := len(n.dec) - 1; d >= 0; d-- {
		dx.Add(n.deep[d].Backward(dDeep[d]))

		parts := nn.SplitChannels(n.dec[d].Backward(dx), n.upWidths[d], n.skipWidths[d])

		dg, dSkip := n.gates[d].backward(parts[1])
		skipGrads[len(n.dec)-1-d] = dSkip

		dUp := parts[0]
		dUp.Add(dg)
		dx = n.ups[d].Backward(dUp)
	}

	for i := len(n.enc) - 1; i >= 0; i-- {
		if i < len(n.enc)-1 {
			dx.Add(skipGrads[i])
		}

		g := n.enc[i].Backward(dx)
		if i > 0 {
			dx = n.pools[i-1].Backward(g)
		}
	}
}
