// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import "io"

// ByteStream exposes the payload sub-range [offset, offset+length) of
// a container as a consumable stream. It maintains its own cursor,
// independent of any other stream or read on the same Reader, and
// signals exhaustion with io.EOF. It satisfies [SizedReader].
type ByteStream struct {
	reader    *Reader
	offset    uint64
	remaining uint64
	length    uint64
}

// NewByteStream returns a stream over length payload bytes starting
// at the given container offset. Bounds are not checked here; every
// Read delegates to [Reader.ReadRawRange], which enforces the payload
// region contract, so a stream constructed over a bad range fails on
// its first non-empty read.
func (r *Reader) NewByteStream(offset, length uint64) *ByteStream {
	return &ByteStream{
		reader:    r,
		offset:    offset,
		remaining: length,
		length:    length,
	}
}

// Size returns the total bounded length, fixed at construction.
func (s *ByteStream) Size() uint64 {
	return s.length
}

// Read delivers up to min(len(p), remaining) bytes and advances the
// stream cursor by however many were actually transferred. Once the
// bounded range is consumed, Read returns io.EOF.
func (s *ByteStream) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	want := uint64(len(p))
	if want > s.remaining {
		want = s.remaining
	}
	if want == 0 {
		return 0, nil
	}

	n, err := s.reader.ReadRawRange(s.offset, p[:want])
	s.offset += uint64(n)
	s.remaining -= uint64(n)
	return n, err
}
