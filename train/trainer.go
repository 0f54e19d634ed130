package train

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/hupe1980/verigo/nn"
)

// Trainable is the training-facing surface of a model. TrainStep runs one
// gradient accumulation pass over a batch and reports its metrics, which
// must include "loss". Evaluate scores a validation batch in inference
// mode and returns the model's canonical validation metric; Config.Direction
// says which way that metric points.
type Trainable[B any] interface {
	Name() string
	TrainStep(batch B) (map[string]float32, error)
	Evaluate(batch B) (float32, error)
	Parameters() []*nn.Parameter
	SaveCheckpoint(path string) error
}

// Direction says how validation values rank.
type Direction int

const (
	// Minimize means smaller validation values are better.
	Minimize Direction = iota
	// Maximize means larger validation values are better.
	Maximize
)

// String returns a human readable direction name.
func (d Direction) String() string {
	switch d {
	case Minimize:
		return "minimize"
	case Maximize:
		return "maximize"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) better(val, best float32) bool {
	if d == Maximize {
		return val > best
	}

	return val < best
}

func (d Direction) worst() float32 {
	if d == Maximize {
		return float32(math.Inf(-1))
	}

	return float32(math.Inf(1))
}

// checkpointExt is the filename extension for checkpoints written by runs.
const checkpointExt = ".ckpt"

// Config controls a training run.
type Config struct {
	// Epochs is the number of passes over the training set. Required.
	Epochs int
	// Optimizer applies gradients after every batch. Nil means stock Adam.
	Optimizer Optimizer
	// Scheduler adjusts the learning rate before each epoch. Nil keeps
	// the optimizer's rate fixed.
	Scheduler Scheduler
	// Sink receives metrics. Nil discards them.
	Sink MetricSink
	// Logger receives run progress. Nil means slog.Default.
	Logger *slog.Logger
	// CheckpointDir is where checkpoints are written. Empty disables all
	// checkpoint writes, including the interrupt checkpoint.
	CheckpointDir string
	// Direction says how Evaluate values rank. The zero value is Minimize.
	Direction Direction
	// SaveInterval writes a rolling checkpoint every N epochs in addition
	// to the best one. Zero means every 5 epochs; negative disables.
	SaveInterval int
	// LogInterval records batch-level loss every N batches. Zero means
	// every 100 batches; negative disables.
	LogInterval int
}

func (c Config) withDefaults() Config {
	if c.Optimizer == nil {
		c.Optimizer = NewAdam(AdamConfig{})
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.SaveInterval == 0 {
		c.SaveInterval = 5
	}

	if c.LogInterval == 0 {
		c.LogInterval = 100
	}

	return c
}

// Result summarizes a run.
type Result struct {
	// Model is the trained model's name.
	Model string
	// Epochs is the number of epochs that fully completed.
	Epochs int
	// Best is the best validation value seen and BestEpoch the epoch that
	// produced it; BestEpoch is -1 when no epoch completed.
	Best      float32
	BestEpoch int
	// CheckpointPath is the best checkpoint on disk, empty when
	// checkpointing is disabled or no epoch completed.
	CheckpointPath string
	// Interrupted reports that the run was cut short by context
	// cancellation.
	Interrupted bool
}

// Trainer drives one model through its epochs.
type Trainer[B any] struct {
	model Trainable[B]
	cfg   Config
}

// New creates a trainer for m. The model instance must not be used for
// inference while a run is in progress.
func New[B any](m Trainable[B], cfg Config) (*Trainer[B], error) {
	if m == nil {
		return nil, fmt.Errorf("train: nil model")
	}

	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("train: epochs must be positive, got %d", cfg.Epochs)
	}

	return &Trainer[B]{model: m, cfg: cfg.withDefaults()}, nil
}

// Run trains until the configured epochs complete or ctx is cancelled.
// On cancellation it writes a final "<name>-interrupt" checkpoint and
// returns the partial result alongside the context error; on a model or
// dataset error the result is nil.
func (t *Trainer[B]) Run(ctx context.Context, train, val Dataset[B]) (*Result, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("train: empty training set")
	}

	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("train: empty validation set")
	}

	name := t.model.Name()
	res := &Result{Model: name, Best: t.cfg.Direction.worst(), BestEpoch: -1}
	lastVal := float32(math.NaN())

	t.cfg.Logger.Info("training started",
		slog.String("model", name),
		slog.Int("epochs", t.cfg.Epochs),
		slog.Int("train_batches", train.Len()),
		slog.Int("val_batches", val.Len()),
	)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if s := t.cfg.Scheduler; s != nil {
			t.cfg.Optimizer.SetLR(s.LR(epoch, lastVal))
		}

		trainMetrics, err := t.trainEpoch(ctx, train, epoch)
		if err != nil {
			if ctx.Err() != nil {
				return t.interrupt(res, ctx.Err())
			}

			return nil, err
		}

		valScore, err := t.validate(ctx, val)
		if err != nil {
			if ctx.Err() != nil {
				return t.interrupt(res, ctx.Err())
			}

			return nil, err
		}

		lastVal = valScore

		for k, v := range trainMetrics {
			t.record(name, epoch, "train_"+k, v)
		}

		t.record(name, epoch, "val_score", valScore)
		t.record(name, epoch, "lr", t.cfg.Optimizer.LR())

		if t.cfg.Direction.better(valScore, res.Best) {
			res.Best = valScore
			res.BestEpoch = epoch

			if t.cfg.CheckpointDir != "" {
				path := filepath.Join(t.cfg.CheckpointDir, name+checkpointExt)
				if err := t.model.SaveCheckpoint(path); err != nil {
					return nil, fmt.Errorf("train: best checkpoint: %w", err)
				}

				res.CheckpointPath = path
			}
		}

		if t.cfg.CheckpointDir != "" && t.cfg.SaveInterval > 0 && (epoch+1)%t.cfg.SaveInterval == 0 {
			path := filepath.Join(t.cfg.CheckpointDir, name+"-last"+checkpointExt)
			if err := t.model.SaveCheckpoint(path); err != nil {
				return nil, fmt.Errorf("train: rolling checkpoint: %w", err)
			}
		}

		res.Epochs = epoch + 1

		t.cfg.Logger.Info("epoch complete",
			slog.String("model", name),
			slog.Int("epoch", epoch),
			slog.Float64("train_loss", float64(trainMetrics["loss"])),
			slog.Float64("val_score", float64(valScore)),
			slog.Float64("lr", float64(t.cfg.Optimizer.LR())),
		)
	}

	t.cfg.Logger.Info("training complete",
		slog.String("model", name),
		slog.Float64("best", float64(res.Best)),
		slog.Int("best_epoch", res.BestEpoch),
	)

	return res, nil
}

// trainEpoch runs one pass over the training set and returns the metrics
// averaged across its batches.
func (t *Trainer[B]) trainEpoch(ctx context.Context, data Dataset[B], epoch int) (map[string]float32, error) {
	sums := make(map[string]float32)

	for i := 0; i < data.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := data.Batch(i)
		if err != nil {
			return nil, fmt.Errorf("train: batch %d: %w", i, err)
		}

		metrics, err := t.model.TrainStep(b)
		if err != nil {
			return nil, fmt.Errorf("train: step %d: %w", i, err)
		}

		t.cfg.Optimizer.Step(t.model.Parameters())

		for k, v := range metrics {
			sums[k] += v
		}

		if t.cfg.LogInterval > 0 && (i+1)%t.cfg.LogInterval == 0 {
			t.record(t.model.Name(), epoch, "batch_loss", metrics["loss"])
		}
	}

	n := float32(data.Len())
	for k := range sums {
		sums[k] /= n
	}

	return sums, nil
}

// validate averages Evaluate across the validation set.
func (t *Trainer[B]) validate(ctx context.Context, data Dataset[B]) (float32, error) {
	var sum float32

	for i := 0; i < data.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		b, err := data.Batch(i)
		if err != nil {
			return 0, fmt.Errorf("train: val batch %d: %w", i, err)
		}

		v, err := t.model.Evaluate(b)
		if err != nil {
			return 0, fmt.Errorf("train: val step %d: %w", i, err)
		}

		sum += v
	}

	return sum / float32(data.Len()), nil
}

// interrupt marks the run cut short and writes a final checkpoint so the
// progress survives the abort.
func (t *Trainer[B]) interrupt(res *Result, cause error) (*Result, error) {
	res.Interrupted = true

	if t.cfg.CheckpointDir != "" {
		path := filepath.Join(t.cfg.CheckpointDir, res.Model+"-interrupt"+checkpointExt)
		if err := t.model.SaveCheckpoint(path); err != nil {
			t.cfg.Logger.Error("interrupt checkpoint failed",
				slog.String("model", res.Model),
				slog.Any("error", err),
			)
		} else {
			t.cfg.Logger.Info("interrupt checkpoint written",
				slog.String("model", res.Model),
				slog.String("path", path),
			)
		}
	}

	return res, cause
}

func (t *Trainer[B]) record(stage string, epoch int, name string, value float32) {
	if t.cfg.Sink != nil {
		t.cfg.Sink.Record(stage, epoch, name, value)
	}
}
