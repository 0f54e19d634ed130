package checkpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload codec of a checkpoint file.
type Compression uint8

const (
	// CompressionNone stores the payload raw.
	CompressionNone Compression = 0
	// CompressionLZ4 favors load speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors size and is the default.
	CompressionZSTD Compression = 2
)

func (c Compression) valid() bool {
	return c <= CompressionZSTD
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Payload block layout: [uncompressedSize uint32][compressedSize uint32][data].
// A compressedSize of zero means the data is stored raw.
const blockHeaderSize = 8

// compressPayload frames data as a payload block, compressing it with the
// requested codec. Incompressible payloads fall back to raw storage.
func compressPayload(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		bound := make([]byte, lz4.CompressBlockBound(len(data)))

		n, err := lz4.CompressBlock(data, bound, nil)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: lz4 compress: %w", err)
		}
		compressed = bound[:n]
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: zstd encoder: %w", err)
		}
		compressed = enc.EncodeAll(data, nil)
		_ = enc.Close()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}

	// Raw fallback when compression yields nothing (weights are often
	// near-incompressible noise).
	if len(compressed) == 0 || len(compressed) >= len(data) {
		block := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(block[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(block[4:], 0)
		copy(block[blockHeaderSize:], data)

		return block, nil
	}

	block := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(block[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(block[4:], uint32(len(compressed)))
	copy(block[blockHeaderSize:], compressed)

	return block, nil
}

// decompressPayload unframes a payload block written by compressPayload.
func decompressPayload(block []byte, c Compression) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, ErrTruncated
	}

	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])

	if compressedSize == 0 {
		if uint32(len(block)-blockHeaderSize) < uncompressedSize {
			return nil, ErrTruncated
		}

		return block[blockHeaderSize : blockHeaderSize+uncompressedSize], nil
	}

	if uint32(len(block)-blockHeaderSize) < compressedSize {
		return nil, ErrTruncated
	}
	compressed := block[blockHeaderSize : blockHeaderSize+compressedSize]

	switch c {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)

		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: lz4 decompress: %w", err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("checkpoint: lz4 size mismatch: got %d, want %d", n, uncompressedSize)
		}

		return out, nil
	case CompressionZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: zstd decoder: %w", err)
		}
		defer dec.Close()

		out, err := dec.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: zstd decompress: %w", err)
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, fmt.Errorf("checkpoint: zstd size mismatch: got %d, want %d", len(out), uncompressedSize)
		}

		return out, nil
	default:
		// compressPayload never frames a compressed block under the
		// none codec.
		return nil, fmt.Errorf("checkpoint: compressed block under %s codec", c)
	}
}
