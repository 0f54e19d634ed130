package antispoof

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// cdcNet is the network graph: a downsampling conv backbone, a spatial
// attention map over the deepest features, and two heads (depth
// regression, binary classification) reading the attended features.
type cdcNet struct {
	blocks     []*nn.Sequential
	attention  *nn.Sequential
	depthHead  *nn.Sequential
	classifier *nn.Sequential

	params  []*nn.Parameter
	buffers []*nn.Buffer

	training bool

	// Training caches for routing gradients through the attention
	// multiply.
	feat    *tensor.Tensor
	attnMap *tensor.Tensor
}

func newCDCNet(cfg Config) *cdcNet {
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	net := &cdcNet{}

	in := 3
	for i, ch := range cfg.Channels {
		p := fmt.Sprintf("block%d", i+1)

		net.blocks = append(net.blocks, nn.NewSequential(
			nn.Named(p+".conv1", nn.NewConv2D(rng, nn.Conv2DConfig{In: in, Out: ch, Kernel: 3, Padding: 1})),
			nn.Named(p+".bn1", nn.NewBatchNorm2D(ch)),
			nn.NewReLU(),
			nn.Named(p+".conv2", nn.NewConv2D(rng, nn.Conv2DConfig{In: ch, Out: ch, Kernel: 3, Padding: 1})),
			nn.Named(p+".bn2", nn.NewBatchNorm2D(ch)),
			nn.NewReLU(),
			nn.NewMaxPool2D(2, 2),
		))

		in = ch
	}

	deep := in

	net.attention = nn.NewSequential(
		nn.Named("attention.conv1", nn.NewConv2D(rng, nn.Conv2DConfig{In: deep, Out: deep, Kernel: 1})),
		nn.Named("attention.bn1", nn.NewBatchNorm2D(deep)),
		nn.NewReLU(),
		nn.Named("attention.conv2", nn.NewConv2D(rng, nn.Conv2DConfig{In: deep, Out: 1, Kernel: 1})),
		nn.NewSigmoid(),
	)

	net.depthHead = nn.NewSequential(
		nn.Named("depth.conv1", nn.NewConv2D(rng, nn.Conv2DConfig{In: deep, Out: deep / 2, Kernel: 3, Padding: 1})),
		nn.Named("depth.bn1", nn.NewBatchNorm2D(deep/2)),
		nn.NewReLU(),
		nn.Named("depth.conv2", nn.NewConv2D(rng, nn.Conv2DConfig{In: deep / 2, Out: deep / 4, Kernel: 3, Padding: 1})),
		nn.Named("depth.bn2", nn.NewBatchNorm2D(deep/4)),
		nn.NewReLU(),
		nn.Named("depth.conv3", nn.NewConv2D(rng, nn.Conv2DConfig{In: deep / 4, Out: 1, Kernel: 1})),
		nn.NewSigmoid(),
	)

	net.classifier = nn.NewSequential(
		nn.NewGlobalAvgPool(),
		nn.Named("classifier.fc1", nn.NewLinear(rng, deep, deep/2)),
		nn.NewReLU(),
		nn.NewDropout(rng, cfg.Dropout),
		nn.Named("classifier.fc2", nn.NewLinear(rng, deep/2, 1)),
		nn.NewSigmoid(),
	)

	for _, b := range net.blocks {
		net.params = append(net.params, b.Params()...)
		net.buffers = append(net.buffers, b.Buffers()...)
	}
	for _, s := range []*nn.Sequential{net.attention, net.depthHead, net.classifier} {
		net.params = append(net.params, s.Params()...)
		net.buffers = append(net.buffers, s.Buffers()...)
	}

	return net
}

func (n *cdcNet) setTraining(training bool) {
	n.training = training
	for _, b := range n.blocks {
		b.SetTraining(training)
	}
	n.attention.SetTraining(training)
	n.depthHead.SetTraining(training)
	n.classifier.SetTraining(training)

	if !training {
		n.feat = nil
		n.attnMap = nil
	}
}

// forward returns (classification (N,1), depth map (N,1,s,s), attention
// map (N,1,h,w)).
func (n *cdcNet) forward(x *tensor.Tensor) (cls, depth, attn *tensor.Tensor) {
	for _, b := range n.blocks {
		x = b.Forward(x)
	}

	attn = n.attention.Forward(x)
	attended := nn.ScaleSpatial(x, attn)

	if n.training {
		n.feat = x
		n.attnMap = attn
	}

	depth = n.depthHead.Forward(attended)
	cls = n.classifier.Forward(attended)

	return cls, depth, attn
}

// backward accumulates parameter gradients from the two head gradients.
func (n *cdcNet) backward(dCls, dDepth *tensor.Tensor) {
	dAttended := n.classifier.Backward(dCls)
	dAttended.Add(n.depthHead.Backward(dDepth))

	dx, dAttn := nn.ScaleSpatialBackward(n.feat, n.attnMap, dAttended)
	dx.Add(n.attention.Backward(dAttn))

	for i := len(n.blocks) - 1; i >= 0; i-- {
		dx = n.blocks[i].Backward(dx)
	}
}
