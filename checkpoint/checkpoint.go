// Package checkpoint persists model weights and running statistics in a
// compact self-describing binary format.
//
// A checkpoint records the model kind, its architecture version tag, the
// architecture configuration as JSON, and every parameter and buffer
// tensor in declaration order. Loading verifies kind and version before
// touching any weights, then fills the caller's tensors in place,
// checking every name and shape. Files carry a CRC-32 so storage
// corruption surfaces before a half-written model reaches inference.
//
// Writes are atomic: the file is staged in the target directory, synced,
// and renamed over the destination, so readers only ever observe complete
// checkpoints.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hupe1980/verigo/internal/mmap"
	"github.com/hupe1980/verigo/nn"
)

// FormatVersion is the current checkpoint file format version.
const FormatVersion uint16 = 1

// magic identifies checkpoint files.
var magic = [4]byte{'V', 'G', 'C', 'P'}

var (
	// ErrInvalidMagic is returned when a file is not a checkpoint.
	ErrInvalidMagic = errors.New("checkpoint: invalid magic")
	// ErrUnsupportedFormat is returned for format versions this build
	// cannot read.
	ErrUnsupportedFormat = errors.New("checkpoint: unsupported format version")
	// ErrUnknownCompression is returned for an unrecognized payload codec.
	ErrUnknownCompression = errors.New("checkpoint: unknown compression")
	// ErrChecksumMismatch is returned when the file fails integrity
	// verification.
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")
	// ErrModelMismatch is returned when the checkpoint was written by a
	// different model kind or architecture version.
	ErrModelMismatch = errors.New("checkpoint: model mismatch")
	// ErrShapeMismatch is returned when a stored tensor does not line up
	// with the model's.
	ErrShapeMismatch = errors.New("checkpoint: shape mismatch")
	// ErrTruncated is returned when the file ends mid-structure.
	ErrTruncated = errors.New("checkpoint: truncated file")
)

// Snapshot binds a model's identity to its tensors. Save serializes it;
// Load verifies Kind and Version against the file and then fills Params
// and Buffers in place, by position.
type Snapshot struct {
	// Kind is the model family, e.g. "faceid".
	Kind string
	// Version is the architecture version tag. Load fails fast when the
	// file was written under a different version.
	Version string
	// Config is the architecture configuration as JSON. It is stored for
	// inspection tooling; Load does not compare it, the Version already
	// pins the architecture.
	Config json.RawMessage
	// Params are the learnable tensors, in network declaration order.
	Params []*nn.Parameter
	// Buffers are the non-learned running statistics, in declaration
	// order.
	Buffers []*nn.Buffer
}

type options struct {
	compression Compression
	mmapRead    bool
}

// Option adjusts how checkpoints are written or read.
type Option func(*options)

// WithCompression selects the payload codec for Save.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithMmap makes Load read through a memory mapping instead of buffering
// the whole file on the heap.
func WithMmap() Option {
	return func(o *options) { o.mmapRead = true }
}

func applyOptions(opts []Option) options {
	o := options{compression: CompressionZSTD}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Save writes the snapshot to path atomically.
func Save(path string, snap *Snapshot, opts ...Option) error {
	o := applyOptions(opts)

	if err := validateSnapshot(snap, o); err != nil {
		return err
	}

	block, err := compressPayload(encodePayload(snap), o.compression)
	if err != nil {
		return err
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		return writeEnvelope(w, snap, o.compression, block)
	})
}

func validateSnapshot(snap *Snapshot, o options) error {
	if snap == nil {
		return fmt.Errorf("checkpoint: nil snapshot")
	}
	if snap.Kind == "" || snap.Version == "" {
		return fmt.Errorf("checkpoint: snapshot kind and version required")
	}
	if !o.compression.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(o.compression))
	}
	return nil
}

// writeEnvelope emits the complete file image: header, payload block,
// and the CRC trailer covering everything before it.
func writeEnvelope(w io.Writer, snap *Snapshot, comp Compression, block []byte) error {
	cw := &crcWriter{w: w}

	head := make([]byte, 8)
	copy(head, magic[:])
	binary.LittleEndian.PutUint16(head[4:], FormatVersion)
	head[6] = byte(comp)

	if _, err := cw.Write(head); err != nil {
		return err
	}

	if err := writeString(cw, snap.Kind); err != nil {
		return err
	}
	if err := writeString(cw, snap.Version); err != nil {
		return err
	}
	if err := writeBytes(cw, snap.Config); err != nil {
		return err
	}

	if _, err := cw.Write(block); err != nil {
		return err
	}

	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], cw.sum)
	_, err := w.Write(tail[:])

	return err
}

// Load reads the checkpoint at path into the snapshot's tensors. The
// snapshot's Kind and Version must match the file exactly; nothing is
// modified when Load returns an error before the tensor section, and the
// per-tensor checks run against names and shapes before any data copy.
func Load(path string, snap *Snapshot, opts ...Option) error {
	o := applyOptions(opts)

	if snap == nil {
		return fmt.Errorf("checkpoint: nil snapshot")
	}

	if o.mmapRead {
		m, err := mmap.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		_ = m.Advise(mmap.AccessSequential)

		return decode(m.Bytes(), snap)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return decode(buf, snap)
}

// Info describes a checkpoint file without loading its tensors.
type Info struct {
	Kind        string
	Version     string
	Config      json.RawMessage
	Compression Compression
}

// Inspect reads and verifies a checkpoint's header.
func Inspect(path string) (*Info, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r, comp, err := verifyEnvelope(buf)
	if err != nil {
		return nil, err
	}

	kind, version, config, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	return &Info{
		Kind:        kind,
		Version:     version,
		Config:      config,
		Compression: comp,
	}, nil
}

func decode(buf []byte, snap *Snapshot) error {
	r, comp, err := verifyEnvelope(buf)
	if err != nil {
		return err
	}

	kind, version, _, err := readHeader(r)
	if err != nil {
		return err
	}

	// Fail fast before any tensor data moves.
	if kind != snap.Kind || version != snap.Version {
		return fmt.Errorf("%w: file has %s %s, model is %s %s",
			ErrModelMismatch, kind, version, snap.Kind, snap.Version)
	}

	payload, err := decompressPayload(r.rest(), comp)
	if err != nil {
		return err
	}

	pr := &sliceReader{buf: payload}

	if err := readParams(pr, snap.Params); err != nil {
		return err
	}
	if err := readBuffers(pr, snap.Buffers); err != nil {
		return err
	}

	if pr.remaining() != 0 {
		return fmt.Errorf("checkpoint: %d trailing payload bytes", pr.remaining())
	}

	return nil
}

// verifyEnvelope checks magic, format version, codec and CRC, returning a
// reader positioned at the header.
func verifyEnvelope(buf []byte) (*sliceReader, Compression, error) {
	if len(buf) < 12 {
		return nil, 0, ErrTruncated
	}

	if !bytes.Equal(buf[:4], magic[:]) {
		return nil, 0, ErrInvalidMagic
	}

	if format := binary.LittleEndian.Uint16(buf[4:6]); format != FormatVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}

	comp := Compression(buf[6])
	if !comp.valid() {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownCompression, buf[6])
	}

	body := buf[:len(buf)-4]
	want := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, 0, fmt.Errorf("%w: computed 0x%08x, stored 0x%08x", ErrChecksumMismatch, got, want)
	}

	return &sliceReader{buf: body, off: 8}, comp, nil
}

func readHeader(r *sliceReader) (kind, version string, config []byte, err error) {
	if kind, err = r.string16(); err != nil {
		return "", "", nil, err
	}
	if version, err = r.string16(); err != nil {
		return "", "", nil, err
	}
	if config, err = r.bytes32(); err != nil {
		return "", "", nil, err
	}

	return kind, version, config, nil
}

func encodePayload(snap *Snapshot) []byte {
	var buf bytes.Buffer

	var count [4]byte

	binary.LittleEndian.PutUint32(count[:], uint32(len(snap.Params)))
	buf.Write(count[:])
	for _, p := range snap.Params {
		encodeTensor(&buf, p.Name, p.Data.Shape, p.Data.Data)
	}

	binary.LittleEndian.PutUint32(count[:], uint32(len(snap.Buffers)))
	buf.Write(count[:])
	for _, b := range snap.Buffers {
		encodeTensor(&buf, b.Name, b.Data.Shape, b.Data.Data)
	}

	return buf.Bytes()
}

func encodeTensor(buf *bytes.Buffer, name string, shape []int, data []float32) {
	var scratch [4]byte

	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(name)))
	buf.Write(scratch[:2])
	buf.WriteString(name)

	buf.WriteByte(byte(len(shape)))
	for _, d := range shape {
		binary.LittleEndian.PutUint32(scratch[:], uint32(d))
		buf.Write(scratch[:])
	}

	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	buf.Write(raw)
}

func readParams(r *sliceReader, params []*nn.Parameter) error {
	n, err := r.uint32()
	if err != nil {
		return err
	}
	if int(n) != len(params) {
		return fmt.Errorf("%w: file has %d parameters, model has %d", ErrShapeMismatch, n, len(params))
	}

	for i, p := range params {
		if err := readTensor(r, fmt.Sprintf("parameter %d", i), p.Name, p.Data.Shape, p.Data.Data); err != nil {
			return err
		}
	}

	return nil
}

func readBuffers(r *sliceReader, buffers []*nn.Buffer) error {
	n, err := r.uint32()
	if err != nil {
		return err
	}
	if int(n) != len(buffers) {
		return fmt.Errorf("%w: file has %d buffers, model has %d", ErrShapeMismatch, n, len(buffers))
	}

	for i, b := range buffers {
		if err := readTensor(r, fmt.Sprintf("buffer %d", i), b.Name, b.Data.Shape, b.Data.Data); err != nil {
			return err
		}
	}

	return nil
}

// readTensor verifies one stored tensor's name and shape against the
// model's and copies its data into dst.
func readTensor(r *sliceReader, slot, wantName string, wantShape []int, dst []float32) error {
	name, err := r.string16()
	if err != nil {
		return err
	}
	if name != wantName {
		return fmt.Errorf("checkpoint: %s is %q in file, %q in model", slot, name, wantName)
	}

	rank, err := r.byte()
	if err != nil {
		return err
	}
	if int(rank) != len(wantShape) {
		return fmt.Errorf("%w: %s %q has rank %d in file, %d in model", ErrShapeMismatch, slot, name, rank, len(wantShape))
	}

	elems := 1
	for _, want := range wantShape {
		dim, err := r.uint32()
		if err != nil {
			return err
		}
		if int(dim) != want {
			return fmt.Errorf("%w: %s %q has shape %v in model", ErrShapeMismatch, slot, name, wantShape)
		}
		elems *= want
	}

	raw, err := r.take(4 * elems)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}

	return nil
}

// sliceReader is a bounds-checked cursor over a byte slice.
type sliceReader struct {
	buf []byte
	off int
}

func (r *sliceReader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, ErrTruncated
	}

	b := r.buf[r.off : r.off+n]
	r.off += n

	return b, nil
}

func (r *sliceReader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (r *sliceReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (r *sliceReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (r *sliceReader) string16() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}

	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (r *sliceReader) bytes32() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}

	return r.take(int(n))
}

func (r *sliceReader) rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)

	return b
}

func (r *sliceReader) remaining() int {
	return len(r.buf) - r.off
}

// crcWriter tracks the CRC-32 of everything written through it.
type crcWriter struct {
	w   io.Writer
	sum uint32
}

func (cw *crcWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.sum = crc32.Update(cw.sum, crc32.IEEETable, p[:n])

	return n, err
}

// writeFileAtomic stages the write in the target directory, syncs, and
// renames over the destination so readers never see a partial file.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	// Best effort: make the rename durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

func writeString(w io.Writer, s string) error {
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], uint16(len(s)))

	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)

	return err
}

func writeBytes(w io.Writer, b []byte) error {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(b)))

	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	_, err := w.Write(b)

	return err
}
