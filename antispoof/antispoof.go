// Package antispoof implements face liveness detection: a depth-supervised
// convolutional classifier that separates genuine faces from presentation
// attacks such as printed photos and replay screens.
//
// Genuine faces have depth structure while most attack media are flat, so
// the network learns an auxiliary depth map alongside the binary
// real/spoof decision and the two heads regularize each other.
package antispoof

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/hupe1980/verigo/blobstore"
	"github.com/hupe1980/verigo/checkpoint"
	"github.com/hupe1980/verigo/imaging"
	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// Kind identifies this model family in checkpoints and version tags.
const Kind = "antispoof"

// Compile time check to ensure Detector satisfies the model interfaces.
var (
	_ model.LivenessChecker  = (*Detector)(nil)
	_ model.Checkpointer     = (*Detector)(nil)
	_ model.BlobCheckpointer = (*Detector)(nil)
)

// Config holds the detector configuration. The zero value of any field is
// replaced by its default.
type Config struct {
	// InputSize is the square input edge in pixels. Images are
	// letterboxed to this size before inference.
	InputSize int
	// Channels are the backbone block widths; each block halves the
	// spatial resolution.
	Channels []int
	// Dropout is the classifier dropout probability during training.
	Dropout float32
	// SpoofThreshold is the confidence a face must exceed to count as
	// genuine.
	SpoofThreshold float32
	// DepthWeight scales the depth supervision term of the training loss.
	DepthWeight float32
	// Seed drives deterministic weight initialization.
	Seed int64
}

// DefaultConfig returns the stock detector configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:      256,
		Channels:       []int{64, 128, 256, 512},
		Dropout:        0.5,
		SpoofThreshold: 0.95,
		DepthWeight:    0.5,
		Seed:           42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.InputSize == 0 {
		c.InputSize = def.InputSize
	}
	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	if c.Dropout == 0 {
		c.Dropout = def.Dropout
	}
	if c.SpoofThreshold == 0 {
		c.SpoofThreshold = def.SpoofThreshold
	}
	if c.DepthWeight == 0 {
		c.DepthWeight = def.DepthWeight
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}

	return c
}

func (c Config) validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("antispoof: at least one backbone block required")
	}

	stride := 1 << len(c.Channels)
	if c.InputSize%stride != 0 {
		return fmt.Errorf("antispoof: input size %d not divisible by backbone stride %d", c.InputSize, stride)
	}

	deep := c.Channels[len(c.Channels)-1]
	if deep%4 != 0 {
		return fmt.Errorf("antispoof: deepest width %d must be divisible by 4", deep)
	}

	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("antispoof: dropout %v outside [0, 1)", c.Dropout)
	}

	if c.SpoofThreshold <= 0 || c.SpoofThreshold >= 1 {
		return fmt.Errorf("antispoof: spoof threshold %v outside (0, 1)", c.SpoofThreshold)
	}

	return nil
}

// DepthSize is the square edge of the predicted depth map.
func (c Config) DepthSize() int {
	return c.InputSize >> len(c.Channels)
}

// arch is the slice of the config that determines the weight layout and
// the inference function. It is what version tags and checkpoint
// compatibility hash over.
func (c Config) arch() any {
	return struct {
		InputSize int
		Channels  []int
	}{c.InputSize, c.Channels}
}

func (c Config) archJSON() json.RawMessage {
	b, err := json.Marshal(c.arch())
	if err != nil {
		panic(fmt.Sprintf("antispoof: marshal arch: %v", err))
	}

	return b
}

// Detector is the liveness detection model.
//
// Inference is lock-free and safe for concurrent use. TrainStep and
// Evaluate mutate network state and must not overlap inference or each
// other; between steps the detector serves inference again.
type Detector struct {
	cfg     Config
	version string
	net     atomic.Pointer[cdcNet]
}

// New creates a detector with freshly initialized weights.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:     cfg,
		version: model.ConfigVersion(Kind, cfg.arch()),
	}
	d.net.Store(newCDCNet(cfg))

	return d, nil
}

// Name returns the model family name.
func (d *Detector) Name() string { return Kind }

// Version returns the architecture version tag.
func (d *Detector) Version() string { return d.version }

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// ParameterCount returns the number of learnable scalars.
func (d *Detector) ParameterCount() int {
	count := 0
	for _, p := range d.net.Load().params {
		count += p.Data.NumElems()
	}

	return count
}

// Parameters exposes the learnable parameters for an optimizer.
func (d *Detector) Parameters() []*nn.Parameter {
	return d.net.Load().params
}

// CheckLiveness classifies a face image as genuine or presentation
// attack. The image is letterboxed to the configured input size; the
// result carries the confidence plus the model's depth and attention
// maps.
func (d *Detector) CheckLiveness(ctx context.Context, img image.Image) (*model.SpoofResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if img == nil {
		return nil, fmt.Errorf("antispoof: nil image")
	}

	t := imaging.Letterbox(imaging.ToTensor(img), d.cfg.InputSize, d.cfg.InputSize)

	cls, depth, attn := d.net.Load().forward(t)

	confidence := cls.Data[0]

	return &model.SpoofResult{
		IsReal:       confidence > d.cfg.SpoofThreshold,
		Confidence:   confidence,
		DepthMap:     depth,
		AttentionMap: attn,
	}, nil
}

// TrainResult carries the outputs of one training step.
type TrainResult struct {
	Loss               float32
	ClassificationLoss float32
	DepthLoss          float32
	Predictions        *tensor.Tensor
	DepthMaps          *tensor.Tensor
	AttentionMaps      *tensor.Tensor
}

// TrainStep runs one gradient step on a batch: images (N,3,S,S), labels
// (N,1) with 1 for genuine, depthTargets (N,1,S/16,S/16) in [0,1].
// Gradients are accumulated into Parameters; applying them is the
// optimizer's job.
func (d *Detector) TrainStep(images, labels, depthTargets *tensor.Tensor) (*TrainResult, error) {
	if err := d.checkBatch(images); err != nil {
		return nil, err
	}

	n := images.Dim(0)
	if labels.Rank() != 2 || labels.Dim(0) != n || labels.Dim(1) != 1 {
		return nil, fmt.Errorf("antispoof: labels shape %v, want (%d,1)", labels.Shape, n)
	}

	ds := d.cfg.DepthSize()
	if depthTargets.Rank() != 4 || depthTargets.Dim(0) != n || depthTargets.Dim(1) != 1 ||
		depthTargets.Dim(2) != ds || depthTargets.Dim(3) != ds {
		return nil, fmt.Errorf("antispoof: depth targets shape %v, want (%d,1,%d,%d)", depthTargets.Shape, n, ds, ds)
	}

	net := d.net.Load()
	net.setTraining(true)
	defer net.setTraining(false)

	for _, p := range net.params {
		p.ZeroGrad()
	}

	cls, depth, attn := net.forward(images)

	clsLoss, dCls := nn.BCELoss(cls, labels)
	depthLoss, dDepth := nn.MSELoss(depth, depthTargets)
	dDepth.Scale(d.cfg.DepthWeight)

	net.backward(dCls, dDepth)

	return &TrainResult{
		Loss:               clsLoss + d.cfg.DepthWeight*depthLoss,
		ClassificationLoss: clsLoss,
		DepthLoss:          depthLoss,
		Predictions:        cls,
		DepthMaps:          depth,
		AttentionMaps:      attn,
	}, nil
}

// Evaluate returns classification accuracy on a labeled batch.
func (d *Detector) Evaluate(images, labels *tensor.Tensor) (float32, error) {
	if err := d.checkBatch(images); err != nil {
		return 0, err
	}

	n := images.Dim(0)
	if labels.Rank() != 2 || labels.Dim(0) != n || labels.Dim(1) != 1 {
		return 0, fmt.Errorf("antispoof: labels shape %v, want (%d,1)", labels.Shape, n)
	}

	cls, _, _ := d.net.Load().forward(images)

	correct := 0
	for i := 0; i < n; i++ {
		pred := cls.At(i, 0) > 0.5
		if pred == (labels.At(i, 0) > 0.5) {
			correct++
		}
	}

	return float32(correct) / float32(n), nil
}

// SaveCheckpoint writes the weights, running statistics and architecture
// to path as one atomic unit.
func (d *Detector) SaveCheckpoint(path string) error {
	return checkpoint.Save(path, d.snapshot(d.net.Load()))
}

// LoadCheckpoint restores a checkpoint saved by a detector with the same
// architecture and swaps it in atomically. In-flight inference keeps the
// weights it started with.
func (d *Detector) LoadCheckpoint(path string) error {
	net := newCDCNet(d.cfg)

	if err := checkpoint.Load(path, d.snapshot(net)); err != nil {
		return err
	}

	d.net.Store(net)

	return nil
}

// SaveCheckpointTo writes the checkpoint to a blob store under name.
func (d *Detector) SaveCheckpointTo(ctx context.Context, store blobstore.BlobStore, name string) error {
	return checkpoint.SaveTo(ctx, store, name, d.snapshot(d.net.Load()))
}

// LoadCheckpointFrom restores a checkpoint from a blob store with the
// same semantics as LoadCheckpoint.
func (d *Detector) LoadCheckpointFrom(ctx context.Context, store blobstore.BlobStore, name string) error {
	net := newCDCNet(d.cfg)

	if err := checkpoint.LoadFrom(ctx, store, name, d.snapshot(net)); err != nil {
		return err
	}

	d.net.Store(net)

	return nil
}

func (d *Detector) snapshot(net *cdcNet) *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Kind:    Kind,
		Version: d.version,
		Config:  d.cfg.archJSON(),
		Params:  net.params,
		Buffers: net.buffers,
	}
}

func (d *Detector) checkBatch(images *tensor.Tensor) error {
	s := d.cfg.InputSize
	if images == nil || images.Rank() != 4 || images.Dim(1) != 3 || images.Dim(2) != s || images.Dim(3) != s {
		return fmt.Errorf("antispoof: images must be (N,3,%d,%d)", s, s)
	}

	return nil
}
