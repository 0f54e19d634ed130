// Package irisseg implements iris segmentation: an attention-gated U-Net
// that produces a pixel-wise iris probability mask together with derived
// quality metrics and a bounding box.
//
// The segmenter is the quality gate of the verification pipeline: a frame
// whose mask is weak or noisy is rejected before any iris matching runs.
package irisseg

import (
	"context"
	"encoding/json"
	"errors"
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
const Kind = "irisseg"

// ErrEmptyDetection is returned by BoundingBox when no mask pixel exceeds
// the binarization threshold, so there is no box to compute.
var ErrEmptyDetection = errors.New("irisseg: empty detection")

// Compile time check to ensure Segmenter satisfies the model interfaces.
var (
	_ model.Segmenter        = (*Segmenter)(nil)
	_ model.Checkpointer     = (*Segmenter)(nil)
	_ model.BlobCheckpointer = (*Segmenter)(nil)
)

// Config holds the segmenter configuration. The zero value of any field is
// replaced by its default.
type Config struct {
	// InputSize is the square input edge in pixels. Images are
	// letterboxed to this size before segmentation.
	InputSize int
	// Widths are the encoder stage widths, shallowest first. The
	// decoder mirrors them in reverse.
	Widths []int
	// DetectionConfidence is the mean mask activation required to
	// count the iris as detected.
	DetectionConfidence float32
	// QualityThreshold is the quality score a detected iris must exceed
	// to be usable for matching.
	QualityThreshold float32
	// Seed drives deterministic weight initialization.
	Seed int64
}

// DefaultConfig returns the stock segmenter configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:           320,
		Widths:              []int{32, 64, 128, 256, 512},
		DetectionConfidence: 0.90,
		QualityThreshold:    0.85,
		Seed:                42,
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
	if c.DetectionConfidence == 0 {
		c.DetectionConfidence = def.DetectionConfidence
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = def.QualityThreshold
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}

	return c
}

func (c Config) validate() error {
	if len(c.Widths) < 2 {
		return fmt.Errorf("irisseg: at least two encoder stages required")
	}

	stride := 1 << (len(c.Widths) - 1)
	if c.InputSize%stride != 0 {
		return fmt.Errorf("irisseg: input size %d not divisible by encoder stride %d", c.InputSize, stride)
	}

	if c.DetectionConfidence <= 0 || c.DetectionConfidence >= 1 {
		return fmt.Errorf("irisseg: detection confidence %v outside (0, 1)", c.DetectionConfidence)
	}

	if c.QualityThreshold <= 0 || c.QualityThreshold >= 1 {
		return fmt.Errorf("irisseg: quality threshold %v outside (0, 1)", c.QualityThreshold)
	}

	return nil
}

// arch is the slice of the config that determines the weight layout and
// the inference function. It is what version tags and checkpoint
// compatibility hash over.
func (c Config) arch() any {
	return struct {
		InputSize int
		Widths    []int
	}{c.InputSize, c.Widths}
}

func (c Config) archJSON() json.RawMessage {
	b, err := json.Marshal(c.arch())
	if err != nil {
		panic(fmt.Sprintf("irisseg: marshal arch: %v", err))
	}

	return b
}

// Segmenter is the iris segmentation model.
//
// Inference is lock-free and safe for concurrent use. TrainStep and
// Evaluate mutate network state and must not overlap inference or each
// other; between steps the segmenter serves inference again.
type Segmenter struct {
	cfg     Config
	version string
	net     atomic.Pointer[segNet]
}

// New creates a segmenter with freshly initialized weights.
func New(cfg Config) (*Segmenter, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Segmenter{
		cfg:     cfg,
		version: model.ConfigVersion(Kind, cfg.arch()),
	}
	s.net.Store(newSegNet(cfg))

	return s, nil
}

// Name returns the model family name.
func (s *Segmenter) Name() string { return Kind }

// Version returns the architecture version tag.
func (s *Segmenter) Version() string { return s.version }

// Config returns the segmenter configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// ParameterCount returns the number of learnable scalars.
func (s *Segmenter) ParameterCount() int {
	count := 0
	for _, p := range s.net.Load().params {
		count += p.Data.NumElems()
	}

	return count
}

// Parameters exposes the learnable parameters for an optimizer.
func (s *Segmenter) Parameters() []*nn.Parameter {
	return s.net.Load().params
}

// Segment produces the iris mask for an eye image plus the derived
// detection, quality and bounding box outputs. The image is letterboxed
// to the configured input size and normalized with ImageNet statistics.
func (s *Segmenter) Segment(ctx context.Context, img image.Image) (*model.SegmentationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if img == nil {
		return nil, fmt.Errorf("irisseg: nil image")
	}

	t := imaging.Letterbox(imaging.ToTensor(img), s.cfg.InputSize, s.cfg.InputSize)
	imaging.Normalize(t, imaging.ImageNetMean, imaging.ImageNetStd)

	mask, _ := s.net.Load().forward(t)

	confidence := mask.Mean()
	quality := QualityScore(mask)

	res := &model.SegmentationResult{
		Detected:     confidence > s.cfg.DetectionConfidence,
		Confidence:   confidence,
		QualityScore: quality,
		Mask:         mask,
	}
	res.Valid = res.Detected && quality > s.cfg.QualityThreshold

	bbox, err := BoundingBox(mask)
	switch {
	case err == nil:
		res.BBox = &bbox
	case errors.Is(err, ErrEmptyDetection):
		// Nothing segmented; the thresholds already report that.
	default:
		return nil, err
	}

	return res, nil
}

// QualityScore aggregates three mask statistics into one score: contrast
// (standard deviation), coverage (fraction of pixels above 0.5) and
// smoothness (one minus the mean absolute horizontal gradient).
func QualityScore(mask *tensor.Tensor) float32 {
	contrast := mask.Std()

	above := 0
	for _, v := range mask.Data {
		if v > 0.5 {
			above++
		}
	}
	coverage := float32(above) / float32(mask.NumElems())

	w := mask.Dim(mask.Rank() - 1)
	rows := mask.NumElems() / w

	var diff float32
	for r := 0; r < rows; r++ {
		row := mask.Data[r*w : (r+1)*w]
		for i := 1; i < w; i++ {
			d := row[i] - row[i-1]
			if d < 0 {
				d = -d
			}
			diff += d
		}
	}
	smoothness := 1 - diff/float32(rows*(w-1))

	return (contrast + coverage + smoothness) / 3
}

// BoundingBox returns the tight axis-aligned box around mask pixels above
// 0.5. The mask must hold a single spatial plane; all-below-threshold
// masks return ErrEmptyDetection.
func BoundingBox(mask *tensor.Tensor) (model.BoundingBox, error) {
	h := mask.Dim(mask.Rank() - 2)
	w := mask.Dim(mask.Rank() - 1)

	if mask.NumElems() != h*w {
		return model.BoundingBox{}, fmt.Errorf("irisseg: bounding box needs a single-plane mask, got shape %v", mask.Shape)
	}

	box := model.BoundingBox{XMin: w, YMin: h, XMax: -1, YMax: -1}

	for y := 0; y < h; y++ {
		row := mask.Data[y*w : (y+1)*w]
		for x, v := range row {
			if v <= 0.5 {
				continue
			}

			if x < box.XMin {
				box.XMin = x
			}
			if x > box.XMax {
				box.XMax = x
			}
			if y < box.YMin {
				box.YMin = y
			}
			box.YMax = y
		}
	}

	if box.XMax < 0 {
		return model.BoundingBox{}, ErrEmptyDetection
	}

	return box, nil
}

// TrainResult carries the outputs of one training step.
type TrainResult struct {
	Loss        float32
	FinalLoss   float32
	DeepLoss    float32
	Dice        float32
	Predictions *tensor.Tensor
}

// TrainStep runs one gradient step on a batch: images (N,3,S,S), masks
// (N,1,S,S) in [0,1]. The loss is the final-mask binary cross-entropy
// plus half the mean of the deep supervision losses, each deep target
// being the ground truth bilinearly resized to that stage's resolution.
// Gradients are accumulated into Parameters; applying them is the
// optimizer's job.
func (s *Segmenter) TrainStep(images, masks *tensor.Tensor) (*TrainResult, error) {
	if err := s.checkBatch(images); err != nil {
		return nil, err
	}

	n := images.Dim(0)
	sz := s.cfg.InputSize
	if masks.Rank() != 4 || masks.Dim(0) != n || masks.Dim(1) != 1 || masks.Dim(2) != sz || masks.Dim(3) != sz {
		return nil, fmt.Errorf("irisseg: masks shape %v, want (%d,1,%d,%d)", masks.Shape, n, sz, sz)
	}

	net := s.net.Load()
	net.setTraining(true)
	defer net.setTraining(false)

	for _, p := range net.params {
		p.ZeroGrad()
	}

	final, deep := net.forward(images)

	finalLoss, dFinal := nn.BCELoss(final, masks)

	scale := 0.5 / float32(len(deep))
	dDeep := make([]*tensor.Tensor, len(deep))

	var deepLoss float32
	for i, d := range deep {
		target := imaging.ResizeBilinear(masks, d.Dim(2), d.Dim(3), true)

		l, g := nn.BCELoss(d, target)
		g.Scale(scale)

		deepLoss += l
		dDeep[i] = g
	}
	deepLoss /= float32(len(deep))

	net.backward(dFinal, dDeep)

	return &TrainResult{
		Loss:        finalLoss + 0.5*deepLoss,
		FinalLoss:   finalLoss,
		DeepLoss:    deepLoss,
		Dice:        nn.DiceScore(final, masks),
		Predictions: final,
	}, nil
}

// Evaluate returns the Dice coefficient between predicted and ground
// truth masks on a batch.
func (s *Segmenter) Evaluate(images, masks *tensor.Tensor) (float32, error) {
	if err := s.checkBatch(images); err != nil {
		return 0, err
	}

	final, _ := s.net.Load().forward(images)

	if !final.SameShape(masks) {
		return 0, fmt.Errorf("irisseg: masks shape %v, want %v", masks.Shape, final.Shape)
	}

	return nn.DiceScore(final, masks), nil
}

// SaveCheckpoint writes the weights, running statistics and architecture
// to path as one atomic unit.
func (s *Segmenter) SaveCheckpoint(path string) error {
	return checkpoint.Save(path, s.snapshot(s.net.Load()))
}

// LoadCheckpoint restores a checkpoint saved by a segmenter with the same
// architecture and swaps it in atomically. In-flight inference keeps the
// weights it started with.
func (s *Segmenter) LoadCheckpoint(path string) error {
	net := newSegNet(s.cfg)

	if err := checkpoint.Load(path, s.snapshot(net)); err != nil {
		return err
	}

	s.net.Store(net)

	return nil
}

// SaveCheckpointTo writes the checkpoint to a blob store under name.
func (s *Segmenter) SaveCheckpointTo(ctx context.Context, store blobstore.BlobStore, name string) error {
	return checkpoint.SaveTo(ctx, store, name, s.snapshot(s.net.Load()))
}

// LoadCheckpointFrom restores a checkpoint from a blob store with the
// same semantics as LoadCheckpoint.
func (s *Segmenter) LoadCheckpointFrom(ctx context.Context, store blobstore.BlobStore, name string) error {
	net := newSegNet(s.cfg)

	if err := checkpoint.LoadFrom(ctx, store, name, s.snapshot(net)); err != nil {
		return err
	}

	s.net.Store(net)

	return nil
}

func (s *Segmenter) snapshot(net *segNet) *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Kind:    Kind,
		Version: s.version,
		Config:  s.cfg.archJSON(),
		Params:  net.params,
		Buffers: net.buffers,
	}
}

func (s *Segmenter) checkBatch(images *tensor.Tensor) error {
	sz := s.cfg.InputSize
	if images == nil || images.Rank() != 4 || images.Dim(1) != 3 || images.Dim(2) != sz || images.Dim(3) != sz {
		return fmt.Errorf("irisseg: images must be (N,3,%d,%d)", sz, sz)
	}

	return nil
}
