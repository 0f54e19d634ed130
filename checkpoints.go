package verigo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/verigo/blobstore"
	"github.com/hupe1980/verigo/model"
)

// checkpointExt is the filename extension for model checkpoints.
const checkpointExt = ".ckpt"

var errNoCheckpointSupport = errors.New("model does not support checkpoints")

// modelSlot pairs a pipeline model with its checkpoint basename.
type modelSlot struct {
	name string
	mdl  any
}

func (p *Pipeline) slots() []modelSlot {
	return []modelSlot{
		{"antispoof", p.models.Liveness},
		{"faceid", p.models.FaceEncoder},
		{"irisseg", p.models.IrisSegmenter},
		{"irisid", p.models.IrisEncoder},
	}
}

// SaveCheckpoints writes one checkpoint per model into dir, creating
// the directory if needed. Files are named after the model slot, e.g.
// antispoof.ckpt. Every model must implement model.Checkpointer.
func (p *Pipeline) SaveCheckpoints(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("verigo: create checkpoint dir: %w", err)
	}

	for _, slot := range p.slots() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ckpt, ok := slot.mdl.(model.Checkpointer)
		if !ok {
			return &CheckpointError{Model: slot.name, cause: errNoCheckpointSupport}
		}

		dst := filepath.Join(dir, slot.name+checkpointExt)

		err := ckpt.SaveCheckpoint(dst)
		if err != nil {
			err = &CheckpointError{Model: slot.name, cause: err}
		}

		p.opts.logger.LogCheckpoint(ctx, "save", slot.name, dst, err)

		if err != nil {
			return err
		}
	}

	return nil
}

// LoadCheckpoints restores every model from checkpoints previously
// written by SaveCheckpoints into dir.
func (p *Pipeline) LoadCheckpoints(ctx context.Context, dir string) error {
	for _, slot := range p.slots() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ckpt, ok := slot.mdl.(model.Checkpointer)
		if !ok {
			return &CheckpointError{Model: slot.name, cause: errNoCheckpointSupport}
		}

		src := filepath.Join(dir, slot.name+checkpointExt)

		err := ckpt.LoadCheckpoint(src)
		if err != nil {
			err = &CheckpointError{Model: slot.name, cause: err}
		}

		p.opts.logger.LogCheckpoint(ctx, "load", slot.name, src, err)

		if err != nil {
			return err
		}
	}

	return nil
}

// SaveCheckpointsTo writes one checkpoint per model into a blob store
// under the given key prefix. Every model must implement
// model.BlobCheckpointer.
func (p *Pipeline) SaveCheckpointsTo(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	for _, slot := range p.slots() {
		ckpt, ok := slot.mdl.(model.BlobCheckpointer)
		if !ok {
			return &CheckpointError{Model: slot.name, cause: errNoCheckpointSupport}
		}

		name := prefix + slot.name + checkpointExt

		err := ckpt.SaveCheckpointTo(ctx, store, name)
		if err != nil {
			err = &CheckpointError{Model: slot.name, cause: err}
		}

		p.opts.logger.LogCheckpoint(ctx, "save", slot.name, name, err)

		if err != nil {
			return err
		}
	}

	return nil
}

// LoadCheckpointsFrom restores every model from blobs previously
// written by SaveCheckpointsTo under the given key prefix.
func (p *Pipeline) LoadCheckpointsFrom(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	for _, slot := range p.slots() {
		ckpt, ok := slot.mdl.(model.BlobCheckpointer)
		if !ok {
			return &CheckpointError{Model: slot.name, cause: errNoCheckpointSupport}
		}

		name := prefix + slot.name + checkpointExt

		err := ckpt.LoadCheckpointFrom(ctx, store, name)
		if err != nil {
			err = &CheckpointError{Model: slot.name, cause: err}
		}

		p.opts.logger.LogCheckpoint(ctx, "load", slot.name, name, err)

		if err != nil {
			return err
		}
	}

	return nil
}
