package checkpoint

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hupe1980/verigo/blobstore"
)

// SaveTo encodes the snapshot and publishes it to a blob store under
// name. The store's Put contract makes the artifact visible atomically.
func SaveTo(ctx context.Context, store blobstore.BlobStore, name string, snap *Snapshot, opts ...Option) error {
	o := applyOptions(opts)

	if err := validateSnapshot(snap, o); err != nil {
		return err
	}

	block, err := compressPayload(encodePayload(snap), o.compression)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(len(block) + 64)
	if err := writeEnvelope(&buf, snap, o.compression, block); err != nil {
		return err
	}

	return store.Put(ctx, name, buf.Bytes())
}

// LoadFrom reads a checkpoint artifact from a blob store into the
// snapshot's tensors, with the same fail-fast verification as Load.
// Memory-resident blobs (local mmap, in-memory stores) are decoded in
// place; remote blobs are read whole first.
func LoadFrom(ctx context.Context, store blobstore.BlobStore, name string, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("checkpoint: nil snapshot")
	}

	b, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	// decode copies tensor data out before returning, so parsing
	// straight from mapped bytes is safe.
	if mb, ok := b.(blobstore.Mappable); ok {
		data, err := mb.Bytes()
		if err == nil {
			return decode(data, snap)
		}
	}

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return err
	}
	return decode(data, snap)
}

// InspectFrom reads and verifies a checkpoint's header from a blob
// store. The whole artifact is fetched; the checksum trailer covers the
// tensor section too, so a header-only read could not be verified.
func InspectFrom(ctx context.Context, store blobstore.BlobStore, name string) (*Info, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	var data []byte
	if mb, ok := b.(blobstore.Mappable); ok {
		data, err = mb.Bytes()
	}
	if data == nil {
		data, err = blobstore.ReadAll(ctx, b)
	}
	if err != nil {
		return nil, err
	}

	r, comp, err := verifyEnvelope(data)
	if err != nil {
		return nil, err
	}
	kind, version, config, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	cfg := make([]byte, len(config))
	copy(cfg, config)

	return &Info{
		Kind:        kind,
		Version:     version,
		Config:      cfg,
		Compression: comp,
	}, nil
}
