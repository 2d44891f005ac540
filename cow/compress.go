// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec applied to one operation's payload.
// Stored as a single byte in each operation record; the values are
// format constants.
type Compression uint8

const (
	// CompressionNone stores payload bytes verbatim.
	CompressionNone Compression = 0

	// CompressionLZ4 stores one LZ4 block per operation. Fast
	// decode, modest ratio; the default for block-device data.
	CompressionLZ4 Compression = 1

	// CompressionZstd stores a zstd frame per operation. Better
	// ratio for text-like blocks at higher CPU cost.
	CompressionZstd Compression = 2
)

// String returns the human-readable name of a compression code.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression code from its string name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// SizedReader is the input contract for decompressors: a bounded
// stream that knows its total length. [ByteStream] satisfies it; tests
// may substitute any in-memory implementation.
type SizedReader interface {
	io.Reader

	// Size returns the total number of bytes the stream will
	// deliver, fixed at construction.
	Size() uint64
}

// Decompressor decodes one operation's payload. Implementations pull
// the entire bounded input from src, push decoded bytes to sink in
// chunks of at most blockSize, and report success only once the input
// is fully consumed and decoding finished cleanly. Any codec-level
// error aborts the decode; the sink may already have received partial
// output by then.
type Decompressor interface {
	Decompress(src SizedReader, sink io.Writer, blockSize uint32) error
}

// NewDecompressor returns the decompressor for a compression code, or
// an error wrapping [ErrFormat] for a code outside the supported set.
// The error path touches neither stream nor sink.
func NewDecompressor(c Compression) (Decompressor, error) {
	switch c {
	case CompressionNone:
		return uncompressed{}, nil
	case CompressionLZ4:
		return lz4Decompressor{}, nil
	case CompressionZstd:
		return zstdDecompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression code %d: %w", uint8(c), ErrFormat)
	}
}

// uncompressed copies the payload through unchanged, blockSize bytes
// at a time.
type uncompressed struct{}

func (uncompressed) Decompress(src SizedReader, sink io.Writer, blockSize uint32) error {
	buf := make([]byte, blockSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing decoded bytes: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}
}

// lz4Decompressor decodes a single LZ4 block. A replace operation's
// payload decodes to at most one device block, so blockSize bounds the
// output exactly.
type lz4Decompressor struct{}

func (lz4Decompressor) Decompress(src SizedReader, sink io.Writer, blockSize uint32) error {
	payload, err := readFullPayload(src)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	decoded := make([]byte, blockSize)
	n, err := lz4.UncompressBlock(payload, decoded)
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}
	if _, err := sink.Write(decoded[:n]); err != nil {
		return fmt.Errorf("writing decoded bytes: %w", err)
	}
	return nil
}

// zstdDecompressor decodes a zstd frame, bounded to one device block.
type zstdDecompressor struct{}

func (zstdDecompressor) Decompress(src SizedReader, sink io.Writer, blockSize uint32) error {
	payload, err := readFullPayload(src)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, blockSize))
	if err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	if uint64(len(decoded)) > uint64(blockSize) {
		return fmt.Errorf("zstd decompress: %d bytes exceeds block size %d", len(decoded), blockSize)
	}
	if _, err := sink.Write(decoded); err != nil {
		return fmt.Errorf("writing decoded bytes: %w", err)
	}
	return nil
}

// readFullPayload drains a bounded stream into memory. Operation
// payloads are at most one compressed block (DataLength is 16 bits),
// so full materialization is cheap.
func readFullPayload(src SizedReader) ([]byte, error) {
	payload := make([]byte, src.Size())
	if _, err := io.ReadFull(src, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return payload, nil
}

// The zstd encoder and decoder are shared across calls: both are safe
// for concurrent use and repeated construction is the dominant cost
// otherwise.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("cow: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cow: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned by Compress when the encoded output
// would not be smaller than the input. Writers fall back to
// CompressionNone for that block.
var errIncompressible = errors.New("block is incompressible")

// IsIncompressible reports whether err indicates that a block could
// not be made smaller by the requested codec.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Compress encodes one block's bytes with the given codec. For
// CompressionNone the input is returned unchanged (no copy). Returns
// an error satisfying [IsIncompressible] when the output would be no
// smaller than the input.
func Compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		encoded := make([]byte, bound)
		written, err := lz4.CompressBlock(data, encoded, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports incompressible input as zero bytes
		// written.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return encoded[:written], nil

	case CompressionZstd:
		encoded := zstdEncoder.EncodeAll(data, nil)
		if len(encoded) >= len(data) {
			return nil, errIncompressible
		}
		return encoded, nil

	default:
		return nil, fmt.Errorf("unsupported compression code %d: %w", uint8(c), ErrFormat)
	}
}
