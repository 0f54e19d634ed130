// Package irisid implements iris recognition: a multi-scale convolutional
// encoder whose stage features pass through convolutional block attention
// before fusion into a 256-dimension unit embedding, trained with
// batch-hard triplet mining.
//
// Inputs are normalized iris strips (the rubber-sheet unwrapped texture),
// enhanced with CLAHE and median filtering before encoding. The
// enhancement chain is deterministic and runs identically at train and
// inference time.
package irisid

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/hupe1980/verigo/blobstore"
	"github.com/hupe1980/verigo/checkpoint"
	"github.com/hupe1980/verigo/distance"
	"github.com/hupe1980/verigo/imaging"
	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// Kind identifies this model family in checkpoints and version tags.
const Kind = "irisid"

// Compile time check to ensure Encoder satisfies the model interfaces.
var (
	_ model.Embedder         = (*Encoder)(nil)
	_ model.Checkpointer     = (*Encoder)(nil)
	_ model.BlobCheckpointer = (*Encoder)(nil)
)

// Config holds the encoder configuration. The zero value of any field is
// replaced by its default.
type Config struct {
	// InputHeight and InputWidth are the strip dimensions in pixels.
	// Iris strips are wide and short, so the two are configured
	// separately.
	InputHeight int
	InputWidth  int
	// Widths are the backbone stage widths; every stage output is
	// tapped through a CBAM block into the embedding.
	Widths []int
	// Hidden is the width of the fusion head's hidden layer.
	Hidden int
	// EmbeddingSize is the dimension of the output embedding.
	EmbeddingSize int
	// Dropout is the fusion head dropout probability during training.
	Dropout float32
	// MatchThreshold is the cosine similarity two irises must reach to
	// count as the same person. Stricter than the face threshold,
	// reflecting iris pattern uniqueness.
	MatchThreshold float32
	// Reduction is the channel attention bottleneck ratio.
	Reduction int
	// TripletMargin is the distance margin of the training loss.
	TripletMargin float32
	// Seed drives deterministic weight initialization.
	Seed int64
}

// DefaultConfig returns the stock encoder configuration.
func DefaultConfig() Config {
	return Config{
		InputHeight:    100,
		InputWidth:     360,
		Widths:         []int{32, 64, 128, 256},
		Hidden:         1024,
		EmbeddingSize:  256,
		Dropout:        0.5,
		MatchThreshold: 0.92,
		Reduction:      16,
		TripletMargin:  0.3,
		Seed:           42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.InputHeight == 0 {
		c.InputHeight = def.InputHeight
	}
	if c.InputWidth == 0 {
		c.InputWidth = def.InputWidth
	}
	if len(c.Widths) == 0 {
		c.Widths = def.Widths
	}
	if c.Hidden == 0 {
		c.Hidden = def.Hidden
	}
	if c.EmbeddingSize == 0 {
		c.EmbeddingSize = def.EmbeddingSize
	}
	if c.Dropout == 0 {
		c.Dropout = def.Dropout
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = def.MatchThreshold
	}
	if c.Reduction == 0 {
		c.Reduction = def.Reduction
	}
	if c.TripletMargin == 0 {
		c.TripletMargin = def.TripletMargin
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}

	return c
}

func (c Config) validate() error {
	if len(c.Widths) == 0 {
		return fmt.Errorf("irisid: at least one backbone stage required")
	}

	for _, w := range c.Widths {
		if w%c.Reduction != 0 {
			return fmt.Errorf("irisid: stage width %d not divisible by attention reduction %d", w, c.Reduction)
		}
	}

	minEdge := 1 << (len(c.Widths) - 1)
	if c.InputHeight < minEdge || c.InputWidth < minEdge {
		return fmt.Errorf("irisid: input %dx%d too small for %d pooling stages", c.InputHeight, c.InputWidth, len(c.Widths)-1)
	}

	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("irisid: dropout %v outside [0, 1)", c.Dropout)
	}

	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		return fmt.Errorf("irisid: match threshold %v outside (0, 1)", c.MatchThreshold)
	}

	if c.TripletMargin <= 0 {
		return fmt.Errorf("irisid: triplet margin %v must be positive", c.TripletMargin)
	}

	return nil
}

// arch is the slice of the config that determines the embedding function.
// It is what version tags and checkpoint compatibility hash over.
func (c Config) arch() any {
	return struct {
		InputHeight   int
		InputWidth    int
		Widths        []int
		Hidden        int
		EmbeddingSize int
		Reduction     int
	}{c.InputHeight, c.InputWidth, c.Widths, c.Hidden, c.EmbeddingSize, c.Reduction}
}

func (c Config) archJSON() json.RawMessage {
	b, err := json.Marshal(c.arch())
	if err != nil {
		panic(fmt.Sprintf("irisid: marshal arch: %v", err))
	}

	return b
}

// Encoder is the iris embedding model.
//
// Inference is lock-free and safe for concurrent use. TrainStep and
// Evaluate mutate network state and must not overlap inference or each
// other; between steps the encoder serves inference again.
type Encoder struct {
	cfg     Config
	version string
	net     atomic.Pointer[irisNet]
}

// New creates an encoder with freshly initialized weights.
func New(cfg Config) (*Encoder, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Encoder{
		cfg:     cfg,
		version: model.ConfigVersion(Kind, cfg.arch()),
	}
	e.net.Store(newIrisNet(cfg))

	return e, nil
}

// Name returns the model family name.
func (e *Encoder) Name() string { return Kind }

// Version returns the architecture version tag.
func (e *Encoder) Version() string { return e.version }

// Config returns the encoder configuration.
func (e *Encoder) Config() Config { return e.cfg }

// ParameterCount returns the number of learnable scalars.
func (e *Encoder) ParameterCount() int {
	count := 0
	for _, p := range e.net.Load().params {
		count += p.Data.NumElems()
	}

	return count
}

// Parameters exposes the learnable parameters for an optimizer.
func (e *Encoder) Parameters() []*nn.Parameter {
	return e.net.Load().params
}

// preprocess resizes an iris strip to the configured dimensions and runs
// the enhancement chain: CLAHE, median denoising, ImageNet normalization.
func (e *Encoder) preprocess(img image.Image) *tensor.Tensor {
	t := imaging.ResizeBilinear(imaging.ToTensor(img), e.cfg.InputHeight, e.cfg.InputWidth, false)
	t = imaging.CLAHE(t, imaging.DefaultClipLimit, imaging.DefaultGridSize)
	t = imaging.MedianFilter3(t)
	imaging.Normalize(t, imaging.ImageNetMean, imaging.ImageNetStd)

	return t
}

// Embed encodes an iris strip into a unit-length embedding tagged with
// the encoder's version.
func (e *Encoder) Embed(ctx context.Context, img image.Image) (*model.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if img == nil {
		return nil, fmt.Errorf("irisid: nil image")
	}

	emb := e.net.Load().forward(e.preprocess(img))

	return &model.Embedding{
		Modality:     model.ModalityIris,
		Vector:       emb.Data,
		ModelVersion: e.version,
	}, nil
}

// Compare returns the cosine similarity of two iris embeddings. Both must
// be iris embeddings produced by the same model version; a similarity at
// or above Config().MatchThreshold means the same person.
func (e *Encoder) Compare(a, b *model.Embedding) (float32, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("irisid: nil embedding")
	}

	if a.Modality != model.ModalityIris || b.Modality != model.ModalityIris {
		return 0, fmt.Errorf("irisid: cannot compare %s and %s embeddings", a.Modality, b.Modality)
	}

	if a.ModelVersion != b.ModelVersion {
		return 0, fmt.Errorf("irisid: model version mismatch: %s vs %s", a.ModelVersion, b.ModelVersion)
	}

	return distance.CosineSimilarity(a.Vector, b.Vector)
}

// TrainResult carries the outputs of one training step.
type TrainResult struct {
	Loss       float32
	Embeddings *tensor.Tensor
}

// TrainStep runs one gradient step on a batch: images (N,3,H,W) of
// preprocessed strips, one identity label per image. For every anchor the
// farthest same-label and nearest different-label embeddings in the batch
// form the triplet. Gradients are accumulated into Parameters; applying
// them is the optimizer's job.
func (e *Encoder) TrainStep(images *tensor.Tensor, labels []int) (*TrainResult, error) {
	if err := e.checkBatch(images); err != nil {
		return nil, err
	}

	if len(labels) != images.Dim(0) {
		return nil, fmt.Errorf("irisid: %d labels for %d images", len(labels), images.Dim(0))
	}

	net := e.net.Load()
	net.setTraining(true)
	defer net.setTraining(false)

	for _, p := range net.params {
		p.ZeroGrad()
	}

	emb := net.forward(images)

	loss, dEmb := nn.BatchHardTripletLoss(emb, labels, e.cfg.TripletMargin)
	net.backward(dEmb)

	return &TrainResult{
		Loss:       loss,
		Embeddings: emb,
	}, nil
}

// Evaluate returns the batch-hard triplet loss on a labeled batch without
// touching gradients; lower is better.
func (e *Encoder) Evaluate(images *tensor.Tensor, labels []int) (float32, error) {
	if err := e.checkBatch(images); err != nil {
		return 0, err
	}

	if len(labels) != images.Dim(0) {
		return 0, fmt.Errorf("irisid: %d labels for %d images", len(labels), images.Dim(0))
	}

	emb := e.net.Load().forward(images)

	loss, _ := nn.BatchHardTripletLoss(emb, labels, e.cfg.TripletMargin)

	return loss, nil
}

// SaveCheckpoint writes the weights, running statistics and architecture
// to path as one atomic unit.
func (e *Encoder) SaveCheckpoint(path string) error {
	return checkpoint.Save(path, e.snapshot(e.net.Load()))
}

// LoadCheckpoint restores a checkpoint saved by an encoder with the same
// architecture and swaps it in atomically. In-flight inference keeps the
// weights it started with.
func (e *Encoder) LoadCheckpoint(path string) error {
	net := newIrisNet(e.cfg)

	if err := checkpoint.Load(path, e.snapshot(net)); err != nil {
		return err
	}

	e.net.Store(net)

	return nil
}

// SaveCheckpointTo writes the checkpoint to a blob store under name.
func (e *Encoder) SaveCheckpointTo(ctx context.Context, store blobstore.BlobStore, name string) error {
	return checkpoint.SaveTo(ctx, store, name, e.snapshot(e.net.Load()))
}

// LoadCheckpointFrom restores a checkpoint from a blob store with the
// same semantics as LoadCheckpoint.
func (e *Encoder) LoadCheckpointFrom(ctx context.Context, store blobstore.BlobStore, name string) error {
	net := newIrisNet(e.cfg)

	if err := checkpoint.LoadFrom(ctx, store, name, e.snapshot(net)); err != nil {
		return err
	}

	e.net.Store(net)

	return nil
}

func (e *Encoder) snapshot(net *irisNet) *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Kind:    Kind,
		Version: e.version,
		Config:  e.cfg.archJSON(),
		Params:  net.params,
		Buffers: net.buffers,
	}
}

func (e *Encoder) checkBatch(images *tensor.Tensor) error {
	h, w := e.cfg.InputHeight, e.cfg.InputWidth
	if images == nil || images.Rank() != 4 || images.Dim(1) != 3 || images.Dim(2) != h || images.Dim(3) != w {
		return fmt.Errorf("irisid: images must be (N,3,%d,%d)", h, w)
	}

	return nil
}
