// Package faceid implements face recognition: a convolutional encoder with
// spatial and channel attention that maps a face image to a 512-dimension
// unit vector, trained with an additive angular margin so that embeddings
// of the same person cluster tightly on the hypersphere.
//
// Identity comparison is plain cosine similarity between embeddings; the
// margin head exists only during training and is dropped at inference.
package faceid

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
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
const Kind = "faceid"

// Compile time check to ensure Encoder satisfies the model interfaces.
var (
	_ model.Embedder         = (*Encoder)(nil)
	_ model.Checkpointer     = (*Encoder)(nil)
	_ model.BlobCheckpointer = (*Encoder)(nil)
)

// Config holds the encoder configuration. The zero value of any field is
// replaced by its default.
type Config struct {
	// InputSize is the square input edge in pixels. Images are
	// letterboxed to this size before encoding.
	InputSize int
	// Widths are the backbone stage widths; each stage halves the
	// spatial resolution and every stage past the first is followed by
	// an attention module.
	Widths []int
	// Hidden is the width of the embedding head's hidden layer.
	Hidden int
	// EmbeddingSize is the dimension of the output embedding.
	EmbeddingSize int
	// NumClasses is the number of training identities. It sizes the
	// margin head only; inference never touches it.
	NumClasses int
	// Scale multiplies the cosine logits before softmax.
	Scale float32
	// Margin is the angular penalty in radians added to the target
	// class during training.
	Margin float32
	// Dropout is the embedding head dropout probability during
	// training.
	Dropout float32
	// MatchThreshold is the cosine similarity two faces must reach to
	// count as the same person.
	MatchThreshold float32
	// Reduction is the channel attention bottleneck ratio.
	Reduction int
	// Seed drives deterministic weight initialization.
	Seed int64
}

// DefaultConfig returns the stock encoder configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:      256,
		Widths:         []int{64, 128, 256, 512},
		Hidden:         1024,
		EmbeddingSize:  512,
		NumClasses:     1000,
		Scale:          64,
		Margin:         0.5,
		Dropout:        0.5,
		MatchThreshold: 0.85,
		Reduction:      16,
		Seed:           42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.InputSize == 0 {
		c.InputSize = def.InputSize
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
	if c.NumClasses == 0 {
		c.NumClasses = def.NumClasses
	}
	if c.Scale == 0 {
		c.Scale = def.Scale
	}
	if c.Margin == 0 {
		c.Margin = def.Margin
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
	if c.Seed == 0 {
		c.Seed = def.Seed
	}

	return c
}

func (c Config) validate() error {
	if len(c.Widths) == 0 {
		return fmt.Errorf("faceid: at least one backbone stage required")
	}

	stride := 1 << len(c.Widths)
	if c.InputSize%stride != 0 {
		return fmt.Errorf("faceid: input size %d not divisible by backbone stride %d", c.InputSize, stride)
	}

	for i, w := range c.Widths {
		if i > 0 && w%c.Reduction != 0 {
			return fmt.Errorf("faceid: stage width %d not divisible by attention reduction %d", w, c.Reduction)
		}
	}

	if c.NumClasses < 2 {
		return fmt.Errorf("faceid: need at least 2 classes, got %d", c.NumClasses)
	}

	if c.Scale <= 0 {
		return fmt.Errorf("faceid: scale %v must be positive", c.Scale)
	}

	if c.Margin <= 0 || c.Margin >= math.Pi/2 {
		return fmt.Errorf("faceid: margin %v outside (0, pi/2)", c.Margin)
	}

	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("faceid: dropout %v outside [0, 1)", c.Dropout)
	}

	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		return fmt.Errorf("faceid: match threshold %v outside (0, 1)", c.MatchThreshold)
	}

	return nil
}

// arch is the slice of the config that determines the embedding function.
// It is what version tags and checkpoint compatibility hash over; the
// margin head's class count is deliberately left out so that embeddings
// stay comparable across retrains with different identity sets.
func (c Config) arch() any {
	return struct {
		InputSize     int
		Widths        []int
		Hidden        int
		EmbeddingSize int
		Reduction     int
	}{c.InputSize, c.Widths, c.Hidden, c.EmbeddingSize, c.Reduction}
}

func (c Config) archJSON() json.RawMessage {
	b, err := json.Marshal(c.arch())
	if err != nil {
		panic(fmt.Sprintf("faceid: marshal arch: %v", err))
	}

	return b
}

// Encoder is the face embedding model.
//
// Inference is lock-free and safe for concurrent use. TrainStep and
// Evaluate mutate network state and must not overlap inference or each
// other; between steps the encoder serves inference again.
type Encoder struct {
	cfg     Config
	version string
	net     atomic.Pointer[arcNet]
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
	e.net.Store(newArcNet(cfg))

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

// Embed encodes a face image into a unit-length embedding tagged with the
// encoder's version. The image is letterboxed to the configured input
// size and fed as raw [0,1] RGB.
func (e *Encoder) Embed(ctx context.Context, img image.Image) (*model.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if img == nil {
		return nil, fmt.Errorf("faceid: nil image")
	}

	t := imaging.Letterbox(imaging.ToTensor(img), e.cfg.InputSize, e.cfg.InputSize)

	emb := e.net.Load().forward(t)

	return &model.Embedding{
		Modality:     model.ModalityFace,
		Vector:       emb.Data,
		ModelVersion: e.version,
	}, nil
}

// Compare returns the cosine similarity of two face embeddings. Both must
// be face embeddings produced by the same model version; a similarity at
// or above Config().MatchThreshold means the same person.
func (e *Encoder) Compare(a, b *model.Embedding) (float32, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("faceid: nil embedding")
	}

	if a.Modality != model.ModalityFace || b.Modality != model.ModalityFace {
		return 0, fmt.Errorf("faceid: cannot compare %s and %s embeddings", a.Modality, b.Modality)
	}

	if a.ModelVersion != b.ModelVersion {
		return 0, fmt.Errorf("faceid: model version mismatch: %s vs %s", a.ModelVersion, b.ModelVersion)
	}

	return distance.CosineSimilarity(a.Vector, b.Vector)
}

// TrainResult carries the outputs of one training step.
type TrainResult struct {
	Loss       float32
	Accuracy   float32
	Embeddings *tensor.Tensor
}

// TrainStep runs one gradient step on a batch: images (N,3,S,S), one
// identity label per image in [0, NumClasses). Gradients are accumulated
// into Parameters; applying them is the optimizer's job.
//
// Accuracy is measured on the margin-penalized logits, so it understates
// what the margin-free comparison would score.
func (e *Encoder) TrainStep(images *tensor.Tensor, labels []int) (*TrainResult, error) {
	if err := e.checkBatch(images); err != nil {
		return nil, err
	}

	if err := e.checkLabels(images.Dim(0), labels); err != nil {
		return nil, err
	}

	net := e.net.Load()
	net.setTraining(true)
	defer net.setTraining(false)

	for _, p := range net.params {
		p.ZeroGrad()
	}

	emb := net.forward(images)
	logits := net.arc.Logits(emb, labels)

	loss, dLogits := nn.SoftmaxCrossEntropy(logits, labels)

	dEmb := net.arc.Backward(dLogits)
	net.backward(dEmb)

	return &TrainResult{
		Loss:       loss,
		Accuracy:   accuracy(nn.ArgMaxRows(logits), labels),
		Embeddings: emb,
	}, nil
}

// Evaluate returns identity classification accuracy on a labeled batch,
// scored on the margin-free cosine logits.
func (e *Encoder) Evaluate(images *tensor.Tensor, labels []int) (float32, error) {
	if err := e.checkBatch(images); err != nil {
		return 0, err
	}

	if err := e.checkLabels(images.Dim(0), labels); err != nil {
		return 0, err
	}

	net := e.net.Load()

	cos := net.arc.Cosine(net.forward(images))

	return accuracy(nn.ArgMaxRows(cos), labels), nil
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
	net := newArcNet(e.cfg)

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
	net := newArcNet(e.cfg)

	if err := checkpoint.LoadFrom(ctx, store, name, e.snapshot(net)); err != nil {
		return err
	}

	e.net.Store(net)

	return nil
}

func (e *Encoder) snapshot(net *arcNet) *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Kind:    Kind,
		Version: e.version,
		Config:  e.cfg.archJSON(),
		Params:  net.params,
		Buffers: net.buffers,
	}
}

func (e *Encoder) checkBatch(images *tensor.Tensor) error {
	s := e.cfg.InputSize
	if images == nil || images.Rank() != 4 || images.Dim(1) != 3 || images.Dim(2) != s || images.Dim(3) != s {
		return fmt.Errorf("faceid: images must be (N,3,%d,%d)", s, s)
	}

	return nil
}

func (e *Encoder) checkLabels(n int, labels []int) error {
	if len(labels) != n {
		return fmt.Errorf("faceid: %d labels for %d images", len(labels), n)
	}

	for i, l := range labels {
		if l < 0 || l >= e.cfg.NumClasses {
			return fmt.Errorf("faceid: label %d at index %d outside [0,%d)", l, i, e.cfg.NumClasses)
		}
	}

	return nil
}

func accuracy(pred, labels []int) float32 {
	correct := 0
	for i, p := range pred {
		if p == labels[i] {
			correct++
		}
	}

	return float32(correct) / float32(len(pred))
}
