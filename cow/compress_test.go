// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// memStream adapts an in-memory payload to the SizedReader contract
// for codec tests that do not need a container file.
type memStream struct {
	*bytes.Reader
	size uint64
}

func newMemStream(data []byte) *memStream {
	return &memStream{Reader: bytes.NewReader(data), size: uint64(len(data))}
}

func (s *memStream) Size() uint64 { return s.size }

func TestCompressionStringNames(t *testing.T) {
	for _, tc := range []struct {
		c    Compression
		want string
	}{
		{CompressionNone, "none"},
		{CompressionLZ4, "lz4"},
		{CompressionZstd, "zstd"},
		{Compression(7), "unknown(7)"},
	} {
		if got := tc.c.String(); got != tc.want {
			t.Errorf("String(%d): got %q, want %q", uint8(tc.c), got, tc.want)
		}
	}

	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("ParseCompression accepted an unknown name")
	}
	c, err := ParseCompression("lz4")
	if err != nil || c != CompressionLZ4 {
		t.Errorf("ParseCompression(lz4): got (%v, %v)", c, err)
	}
}

func TestNewDecompressorUnknownCode(t *testing.T) {
	if _, err := NewDecompressor(Compression(200)); !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestCompressDecompressCodecs(t *testing.T) {
	data := patternBytes(testBlockSize)

	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			encoded, err := Compress(data, c)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(encoded) >= len(data) {
				t.Fatalf("pattern data did not shrink: %d -> %d", len(data), len(encoded))
			}

			decompressor, err := NewDecompressor(c)
			if err != nil {
				t.Fatalf("NewDecompressor: %v", err)
			}
			var decoded bytes.Buffer
			if err := decompressor.Decompress(newMemStream(encoded), &decoded, testBlockSize); err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decoded.Bytes(), data) {
				t.Error("decode mismatch")
			}
		})
	}
}

func TestCompressIncompressible(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, testBlockSize)
	rng.Read(data)

	if _, err := Compress(data, CompressionLZ4); !IsIncompressible(err) {
		t.Fatalf("got %v, want incompressible", err)
	}
}

func TestUncompressedPassThroughChunks(t *testing.T) {
	data := patternBytes(testBlockSize*2 + 17)
	var decoded bytes.Buffer
	if err := (uncompressed{}).Decompress(newMemStream(data), &decoded, 512); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), data) {
		t.Error("pass-through mismatch")
	}
}

func TestLZ4DecompressCorruptPayload(t *testing.T) {
	encoded, err := Compress(patternBytes(testBlockSize), CompressionLZ4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	// Truncation guarantees the block ends mid-sequence.
	truncated := encoded[:len(encoded)/2]

	decompressor, _ := NewDecompressor(CompressionLZ4)
	var decoded bytes.Buffer
	if err := decompressor.Decompress(newMemStream(truncated), &decoded, testBlockSize); err == nil {
		t.Fatal("truncated lz4 payload decoded without error")
	}
}

func TestZstdDecompressRejectsOversizedOutput(t *testing.T) {
	// A frame decoding to more than blockSize must be rejected even
	// though the compressed payload itself is intact.
	encoded, err := Compress(patternBytes(testBlockSize), CompressionZstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	decompressor, _ := NewDecompressor(CompressionZstd)
	var decoded bytes.Buffer
	if err := decompressor.Decompress(newMemStream(encoded), &decoded, 512); err == nil {
		t.Fatal("oversized zstd output accepted")
	}
}
