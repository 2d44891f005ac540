// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const testBlockSize = 4096

// buildContainer writes a container holding data as replace
// operations and returns its path.
func buildContainer(t *testing.T, data []byte, c Compression) string {
	t.Helper()
	writer := NewWriter(testBlockSize)
	if err := writer.AddData(0, data, c); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.cow")
	if err := writer.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// rewriteContainer loads a container file, lets mutate rewrite its
// header, optionally recomputes the header checksum so the mutation
// survives validation, and writes the result back.
func rewriteContainer(t *testing.T, path string, mutate func(*Header), resealHeader bool) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	header, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	mutate(&header)
	if resealHeader {
		header.HeaderChecksum = ChecksumHeader(header)
	}
	encoded := header.Encode()
	copy(data, encoded[:])
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing container: %v", err)
	}
}

// patternBytes returns length bytes of a deterministic compressible
// pattern.
func patternBytes(length int) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i / 7)
	}
	return data
}

func TestOpenValidContainer(t *testing.T) {
	data := patternBytes(3 * testBlockSize)
	path := buildContainer(t, data, CompressionLZ4)

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	header := reader.Header()
	if header.Magic != Magic {
		t.Errorf("magic: got %#x, want %#x", header.Magic, Magic)
	}
	if header.BlockSize != testBlockSize {
		t.Errorf("block size: got %d, want %d", header.BlockSize, testBlockSize)
	}
	if header.NumOps != 3 {
		t.Errorf("num ops: got %d, want 3", header.NumOps)
	}
	if header.OpsSize != 3*OpSize {
		t.Errorf("ops size: got %d, want %d", header.OpsSize, 3*OpSize)
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.cow")
	if err := os.WriteFile(path, make([]byte, HeaderSize-1), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

// Bounds problems must be rejected before magic, version, or checksum
// checks run, so these mutations deliberately do not reseal the
// header checksum: reaching the checksum check at all would be a
// validation-order bug.
func TestOpenRejectsOpsOffsetBeyondFile(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	rewriteContainer(t, path, func(h *Header) {
		h.OpsOffset = 1 << 40
	}, false)

	_, err := Open(path)
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("got %v, want ErrBounds", err)
	}
}

func TestOpenRejectsOversizedOpsTable(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	rewriteContainer(t, path, func(h *Header) {
		// Large enough that ops_offset + ops_size overflows uint64;
		// the subtraction-based check must still reject it.
		h.OpsSize = ^uint64(0) - 8
	}, false)

	_, err := Open(path)
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("got %v, want ErrBounds", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	rewriteContainer(t, path, func(h *Header) {
		h.Magic = 0xdeadbeef
	}, true)

	_, err := Open(path)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestOpenRejectsDeclaredHeaderSize(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	rewriteContainer(t, path, func(h *Header) {
		h.HeaderSize = HeaderSize + 16
	}, true)

	_, err := Open(path)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestOpenRejectsVersionMismatch(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	rewriteContainer(t, path, func(h *Header) {
		h.MajorVersion = MajorVersion + 1
	}, true)

	_, err := Open(path)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	// BlockSize is covered by the header checksum but not otherwise
	// validated, so flipping it without resealing isolates the
	// integrity check.
	rewriteContainer(t, path, func(h *Header) {
		h.BlockSize++
	}, false)

	_, err := Open(path)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
}

func TestReadRawRangeBounds(t *testing.T) {
	payload := patternBytes(testBlockSize)
	path := buildContainer(t, payload, CompressionNone)
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	opsOffset := reader.Header().OpsOffset

	tests := []struct {
		name   string
		offset uint64
		length int
	}{
		{"inside header", HeaderSize - 1, 16},
		{"at ops table", opsOffset, 16},
		{"beyond ops table", opsOffset + 100, 16},
		{"crossing into ops table", opsOffset - 8, 16},
		{"length exceeding file", HeaderSize, testBlockSize * 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.length)
			if _, err := reader.ReadRawRange(tc.offset, buf); !errors.Is(err, ErrBounds) {
				t.Fatalf("got %v, want ErrBounds", err)
			}
		})
	}
}

func TestReadRawRangeReadsPayload(t *testing.T) {
	payload := patternBytes(testBlockSize)
	path := buildContainer(t, payload, CompressionNone)
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	// CompressionNone stores the block verbatim at the start of the
	// payload region.
	buf := make([]byte, 64)
	n, err := reader.ReadRawRange(HeaderSize+10, buf)
	if err != nil {
		t.Fatalf("ReadRawRange: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("read %d bytes, want %d", n, len(buf))
	}
	if !bytes.Equal(buf, payload[10:10+64]) {
		t.Error("payload bytes do not match source data")
	}
}

func TestOpIteratorYieldsAllRecords(t *testing.T) {
	writer := NewWriter(testBlockSize)
	writer.AddCopy(1, 100)
	writer.AddZero(2)
	if err := writer.AddReplace(3, patternBytes(testBlockSize), CompressionLZ4); err != nil {
		t.Fatalf("AddReplace: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.cow")
	if err := writer.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}

	var got []Operation
	for !iterator.Done() {
		got = append(got, iterator.Current())
		iterator.Advance()
	}
	if len(got) != 3 {
		t.Fatalf("got %d ops, want 3", len(got))
	}
	if got[0].Kind != OpCopy || got[0].NewBlock != 1 || got[0].Source != 100 {
		t.Errorf("op 0: got %+v", got[0])
	}
	if got[1].Kind != OpZero || got[1].NewBlock != 2 {
		t.Errorf("op 1: got %+v", got[1])
	}
	if got[2].Kind != OpReplace || got[2].NewBlock != 3 {
		t.Errorf("op 2: got %+v", got[2])
	}
}

func TestOpIteratorIgnoresTrailingPartialRecord(t *testing.T) {
	path := buildContainer(t, patternBytes(2*testBlockSize), CompressionNone)

	// Extend the table region with half a record and reseal both
	// checksums so only the partial-record handling is under test.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	header, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	data = append(data, make([]byte, OpSize/2)...)
	header.OpsSize += OpSize / 2
	table := data[header.OpsOffset : header.OpsOffset+header.OpsSize]
	header.OpsChecksum = ChecksumOps(table)
	header.HeaderChecksum = ChecksumHeader(header)
	encoded := header.Encode()
	copy(data, encoded[:])
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing container: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}
	count := 0
	for !iterator.Done() {
		iterator.Current()
		iterator.Advance()
		count++
	}
	if count != 2 {
		t.Fatalf("got %d ops, want 2 (partial trailing record ignored)", count)
	}
}

func TestOpIteratorRejectsCorruptTable(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading container: %v", err)
	}
	header, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	data[header.OpsOffset] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing container: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if _, err := reader.OpIterator(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
}

func TestOpIteratorPanicsPastEnd(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}
	for !iterator.Done() {
		iterator.Advance()
	}

	defer func() {
		if recover() == nil {
			t.Error("Current on exhausted iterator did not panic")
		}
	}()
	iterator.Current()
}

// recordingSink counts writes so tests can assert a failed decode
// never touched the sink.
type recordingSink struct {
	bytes.Buffer
	writes int
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.writes++
	return s.Buffer.Write(p)
}

func TestDecodeOperationUnknownCompression(t *testing.T) {
	path := buildContainer(t, patternBytes(testBlockSize), CompressionNone)
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	op := Operation{
		Kind:        OpReplace,
		Compression: 9,
		DataLength:  128,
		Source:      HeaderSize,
	}
	sink := &recordingSink{}
	if err := reader.DecodeOperation(op, sink); !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
	if sink.writes != 0 {
		t.Errorf("sink received %d writes before the codec check", sink.writes)
	}
}

func TestDecodeOperationRoundTrip(t *testing.T) {
	sizes := []int{0, 1, testBlockSize - 1, testBlockSize, testBlockSize + 1, 3*testBlockSize + testBlockSize/2}
	codecs := []Compression{CompressionNone, CompressionLZ4, CompressionZstd}

	for _, c := range codecs {
		for _, size := range sizes {
			t.Run(c.String()+"/"+strconv.Itoa(size), func(t *testing.T) {
				data := patternBytes(size)
				path := buildContainer(t, data, c)

				reader, err := Open(path)
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				defer reader.Close()

				iterator, err := reader.OpIterator()
				if err != nil {
					t.Fatalf("OpIterator: %v", err)
				}
				var decoded bytes.Buffer
				for !iterator.Done() {
					if err := reader.DecodeOperation(iterator.Current(), &decoded); err != nil {
						t.Fatalf("DecodeOperation: %v", err)
					}
					iterator.Advance()
				}
				if !bytes.Equal(decoded.Bytes(), data) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", decoded.Len(), size)
				}
			})
		}
	}
}

func TestDecodeOperationIncompressibleFallback(t *testing.T) {
	// Random bytes defeat lz4; the writer must have stored them
	// verbatim and the round trip must still hold.
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, testBlockSize)
	rng.Read(data)

	path := buildContainer(t, data, CompressionLZ4)
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}
	op := iterator.Current()
	if op.Compression != CompressionNone {
		t.Errorf("compression: got %s, want none (incompressible fallback)", op.Compression)
	}

	var decoded bytes.Buffer
	if err := reader.DecodeOperation(op, &decoded); err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), data) {
		t.Error("round trip mismatch for incompressible block")
	}
}

func TestDecodeOperationZeroAndCopyProduceNothing(t *testing.T) {
	writer := NewWriter(testBlockSize)
	writer.AddCopy(1, 50)
	writer.AddZero(2)
	path := filepath.Join(t.TempDir(), "test.cow")
	if err := writer.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}
	for !iterator.Done() {
		sink := &recordingSink{}
		if err := reader.DecodeOperation(iterator.Current(), sink); err != nil {
			t.Fatalf("DecodeOperation: %v", err)
		}
		if sink.Len() != 0 {
			t.Errorf("%s op decoded %d bytes, want 0", iterator.Current().Kind, sink.Len())
		}
		iterator.Advance()
	}
}
