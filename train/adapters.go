package train

import (
	"github.com/hupe1980/verigo/antispoof"
	"github.com/hupe1980/verigo/faceid"
	"github.com/hupe1980/verigo/irisid"
	"github.com/hupe1980/verigo/irisseg"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// SpoofBatch is one liveness mini-batch: images (N,3,S,S), labels (N,1)
// with 1 for genuine, depth targets (N,1,S/16,S/16) in [0,1].
type SpoofBatch struct {
	Images *tensor.Tensor
	Labels *tensor.Tensor
	Depth  *tensor.Tensor
}

// Spoof adapts a liveness detector to the Trainable contract. Its
// Evaluate value is classification accuracy; train it with Maximize.
func Spoof(d *antispoof.Detector) Trainable[SpoofBatch] {
	return spoofAdapter{d: d}
}

type spoofAdapter struct {
	d *antispoof.Detector
}

func (a spoofAdapter) Name() string { return a.d.Name() }

func (a spoofAdapter) TrainStep(b SpoofBatch) (map[string]float32, error) {
	res, err := a.d.TrainStep(b.Images, b.Labels, b.Depth)
	if err != nil {
		return nil, err
	}

	return map[string]float32{
		"loss":       res.Loss,
		"cls_loss":   res.ClassificationLoss,
		"depth_loss": res.DepthLoss,
	}, nil
}

func (a spoofAdapter) Evaluate(b SpoofBatch) (float32, error) {
	return a.d.Evaluate(b.Images, b.Labels)
}

func (a spoofAdapter) Parameters() []*nn.Parameter { return a.d.Parameters() }

func (a spoofAdapter) SaveCheckpoint(path string) error { return a.d.SaveCheckpoint(path) }

// FaceBatch is one face identity mini-batch: images (N,3,S,S) and one
// identity label per image in [0, NumClasses).
type FaceBatch struct {
	Images *tensor.Tensor
	Labels []int
}

// Face adapts a face encoder to the Trainable contract. Its Evaluate
// value is identity accuracy; train it with Maximize.
func Face(e *faceid.Encoder) Trainable[FaceBatch] {
	return faceAdapter{e: e}
}

type faceAdapter struct {
	e *faceid.Encoder
}

func (a faceAdapter) Name() string { return a.e.Name() }

func (a faceAdapter) TrainStep(b FaceBatch) (map[string]float32, error) {
	res, err := a.e.TrainStep(b.Images, b.Labels)
	if err != nil {
		return nil, err
	}

	return map[string]float32{
		"loss":     res.Loss,
		"accuracy": res.Accuracy,
	}, nil
}

func (a faceAdapter) Evaluate(b FaceBatch) (float32, error) {
	return a.e.Evaluate(b.Images, b.Labels)
}

func (a faceAdapter) Parameters() []*nn.Parameter { return a.e.Parameters() }

func (a faceAdapter) SaveCheckpoint(path string) error { return a.e.SaveCheckpoint(path) }

// SegBatch is one segmentation mini-batch: images (N,3,S,S) and ground
// truth masks (N,1,S,S) in [0,1].
type SegBatch struct {
	Images *tensor.Tensor
	Masks  *tensor.Tensor
}

// Seg adapts an iris segmenter to the Trainable contract. Its Evaluate
// value is the Dice coefficient; train it with Maximize.
func Seg(s *irisseg.Segmenter) Trainable[SegBatch] {
	return segAdapter{s: s}
}

type segAdapter struct {
	s *irisseg.Segmenter
}

func (a segAdapter) Name() string { return a.s.Name() }

func (a segAdapter) TrainStep(b SegBatch) (map[string]float32, error) {
	res, err := a.s.TrainStep(b.Images, b.Masks)
	if err != nil {
		return nil, err
	}

	return map[string]float32{
		"loss":       res.Loss,
		"final_loss": res.FinalLoss,
		"deep_loss":  res.DeepLoss,
		"dice":       res.Dice,
	}, nil
}

func (a segAdapter) Evaluate(b SegBatch) (float32, error) {
	return a.s.Evaluate(b.Images, b.Masks)
}

func (a segAdapter) Parameters() []*nn.Parameter { return a.s.Parameters() }

func (a segAdapter) SaveCheckpoint(path string) error { return a.s.SaveCheckpoint(path) }

// IrisBatch is one iris identity mini-batch: preprocessed strips (N,3,H,W)
// and one identity label per image.
type IrisBatch struct {
	Images *tensor.Tensor
	Labels []int
}

// Iris adapts an iris encoder to the Trainable contract. Its Evaluate
// value is the batch-hard triplet loss; train it with Minimize.
func Iris(e *irisid.Encoder) Trainable[IrisBatch] {
	return irisAdapter{e: e}
}

type irisAdapter struct {
	e *irisid.Encoder
}

func (a irisAdapter) Name() string { return a.e.Name() }

func (a irisAdapter) TrainStep(b IrisBatch) (map[string]float32, error) {
	res, err := a.e.TrainStep(b.Images, b.Labels)
	if err != nil {
		return nil, err
	}

	return map[string]float32{"loss": res.Loss}, nil
}

func (a irisAdapter) Evaluate(b IrisBatch) (float32, error) {
	return a.e.Evaluate(b.Images, b.Labels)
}

func (a irisAdapter) Parameters() []*nn.Parameter { return a.e.Parameters() }

func (a irisAdapter) SaveCheckpoint(path string) error { return a.e.SaveCheckpoint(path) }
