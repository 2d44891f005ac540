// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader serves read queries against a validated snapfold container.
// The header is parsed and validated exactly once, when the Reader is
// constructed; every later query works against the cached header.
//
// All file access uses positioned reads, so the Reader never moves a
// shared file offset. It is still a single logical reading session:
// do not share one Reader across goroutines.
type Reader struct {
	file     *os.File
	size     uint64
	header   Header
	ownsFile bool
}

// Open opens the container at path and validates its header. The
// returned Reader owns the descriptor; Close releases it.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.ownsFile = true
	return reader, nil
}

// NewReader validates the header of an already-open container file
// and returns a Reader over it. The descriptor is borrowed: the
// caller keeps ownership and Close on the Reader leaves it open. No
// partial Reader is ever returned; on any validation failure the
// caller's descriptor is untouched apart from positioned reads.
func NewReader(file *os.File) (*Reader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}
	size := uint64(info.Size())

	if size < HeaderSize {
		return nil, fmt.Errorf("container is %d bytes, smaller than the %d-byte header: %w",
			size, HeaderSize, ErrFormat)
	}

	var raw [HeaderSize]byte
	if _, err := file.ReadAt(raw[:], 0); err != nil {
		return nil, fmt.Errorf("reading container header: %w", err)
	}
	header, err := DecodeHeader(raw[:])
	if err != nil {
		return nil, err
	}

	// Bounds before content: a hostile ops range must be rejected
	// before any check that could be steered into reading out of
	// bounds. The subtraction order avoids unsigned overflow.
	if header.OpsOffset >= size {
		return nil, fmt.Errorf("ops table offset %d beyond file size %d: %w",
			header.OpsOffset, size, ErrBounds)
	}
	if size-header.OpsOffset < header.OpsSize {
		return nil, fmt.Errorf("ops table size %d does not fit in %d bytes after offset %d: %w",
			header.OpsSize, size-header.OpsOffset, header.OpsOffset, ErrBounds)
	}

	if header.Magic != Magic {
		return nil, fmt.Errorf("bad magic %#x, want %#x: %w", header.Magic, Magic, ErrFormat)
	}
	if header.HeaderSize != HeaderSize {
		return nil, fmt.Errorf("declared header size %d, want %d: %w",
			header.HeaderSize, HeaderSize, ErrFormat)
	}
	if header.MajorVersion != MajorVersion || header.MinorVersion != MinorVersion {
		return nil, fmt.Errorf("container version %d.%d, want %d.%d: %w",
			header.MajorVersion, header.MinorVersion, MajorVersion, MinorVersion, ErrFormat)
	}

	if ChecksumHeader(header) != header.HeaderChecksum {
		return nil, fmt.Errorf("header: %w", ErrIntegrity)
	}

	return &Reader{
		file:   file,
		size:   size,
		header: header,
	}, nil
}

// Close releases the descriptor if the Reader owns it (constructed
// via Open). For borrowed descriptors it is a no-op.
func (r *Reader) Close() error {
	if !r.ownsFile {
		return nil
	}
	return r.file.Close()
}

// Header returns the cached, validated container header.
func (r *Reader) Header() Header {
	return r.header
}

// OpIterator reads the operation table, verifies its checksum, and
// returns a forward-only iterator owning the table bytes. Each call
// re-reads and re-validates the table; an exhausted iterator is not
// restartable.
func (r *Reader) OpIterator() (*OpIterator, error) {
	table := make([]byte, r.header.OpsSize)

	// The table is consumed front to back in one pass; tell the
	// kernel so. Best effort, ignored where unsupported.
	adviseSequential(r.file, int64(r.header.OpsOffset), int64(r.header.OpsSize))

	if n, err := r.file.ReadAt(table, int64(r.header.OpsOffset)); err != nil {
		// ReadAt may report io.EOF alongside a complete read when
		// the table abuts the end of the file.
		if !(n == len(table) && errors.Is(err, io.EOF)) {
			return nil, fmt.Errorf("reading %d-byte ops table at offset %d: %w",
				r.header.OpsSize, r.header.OpsOffset, err)
		}
	}

	if ChecksumOps(table) != r.header.OpsChecksum {
		return nil, fmt.Errorf("ops table: %w", ErrIntegrity)
	}

	return newOpIterator(table), nil
}

// ReadRawRange reads payload bytes at the given container offset into
// buf. The requested range must lie entirely inside the payload
// region [HeaderSize, OpsOffset); anything else fails with
// [ErrBounds] and reads nothing.
//
// Returns the number of bytes transferred. A short read is not an
// error at this layer; callers needing the full range must loop.
func (r *Reader) ReadRawRange(offset uint64, buf []byte) (int, error) {
	length := uint64(len(buf))

	// length >= size can only describe a range crossing out of the
	// file; rejecting it first keeps offset+length from ever being
	// computed on hostile values. The final comparison is phrased as
	// a subtraction from OpsOffset, which the second check has
	// already proven is > offset.
	if offset < HeaderSize || offset >= r.header.OpsOffset ||
		length >= r.size || length > r.header.OpsOffset-offset {
		return 0, fmt.Errorf("raw read of %d bytes at offset %d outside payload region [%d, %d): %w",
			length, offset, HeaderSize, r.header.OpsOffset, ErrBounds)
	}

	n, err := r.file.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading %d payload bytes at offset %d: %w", length, offset, err)
	}
	return n, nil
}

// DecodeOperation decompresses one operation's payload into sink,
// in chunks bounded by the header's block size. An unsupported
// compression code fails before any stream or sink interaction. The
// codec decides how many bytes the sink receives; this method only
// supplies the bounded payload stream and the chunk size.
func (r *Reader) DecodeOperation(op Operation, sink io.Writer) error {
	decompressor, err := NewDecompressor(op.Compression)
	if err != nil {
		return err
	}

	stream := r.NewByteStream(op.Source, uint64(op.DataLength))
	if err := decompressor.Decompress(stream, sink, r.header.BlockSize); err != nil {
		return fmt.Errorf("decoding %s op for block %d: %w", op.Kind, op.NewBlock, err)
	}
	return nil
}
