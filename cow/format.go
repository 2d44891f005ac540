// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a snapfold container. The value is the ASCII string
// "snapfold" read as a little-endian uint64, which makes the first
// eight bytes of a container recognizable in a hex dump.
const Magic uint64 = 0x646c6f6670616e73

// Container format version. The reader requires an exact match on
// both numbers: the format carries no negotiation, so any layout
// change bumps the version and old readers reject new files outright.
const (
	MajorVersion uint16 = 1
	MinorVersion uint16 = 0
)

// HeaderSize is the encoded size of a Header in bytes. A container's
// declared header_size field must equal this value exactly.
const HeaderSize = 108

// OpSize is the encoded size of one Operation record in bytes. The
// operation table is a contiguous array of these records.
const OpSize = 24

// Header is the container header, stored at offset 0. All integer
// fields are little-endian on the wire.
type Header struct {
	// Magic must equal [Magic].
	Magic uint64

	// MajorVersion and MinorVersion gate compatibility; both must
	// match the compiled-in version exactly.
	MajorVersion uint16
	MinorVersion uint16

	// HeaderSize is the writer's encoded header size. Must equal
	// [HeaderSize]; a mismatch means the file was produced by an
	// incompatible layout.
	HeaderSize uint16

	// OpsOffset and OpsSize locate the operation table region.
	// The payload region is everything between the header and
	// OpsOffset.
	OpsOffset uint64
	OpsSize   uint64

	// NumOps is the number of complete operation records the writer
	// emitted. Informational: the table length is authoritative.
	NumOps uint64

	// BlockSize is the device block size the container was built
	// against. Decoded operation payloads are produced in chunks of
	// at most this size.
	BlockSize uint32

	// HeaderChecksum is the keyed BLAKE3 digest of the encoded
	// header with this field itself zeroed.
	HeaderChecksum [32]byte

	// OpsChecksum is the keyed BLAKE3 digest of the raw operation
	// table bytes.
	OpsChecksum [32]byte
}

// Header wire layout offsets.
const (
	headerOffMagic          = 0
	headerOffMajorVersion   = 8
	headerOffMinorVersion   = 10
	headerOffHeaderSize     = 12
	headerOffReserved       = 14 // two zero bytes, keeps OpsOffset 8-aligned
	headerOffOpsOffset      = 16
	headerOffOpsSize        = 24
	headerOffNumOps         = 32
	headerOffBlockSize      = 40
	headerOffHeaderChecksum = 44
	headerOffOpsChecksum    = 76
)

// Encode serializes the header into its fixed wire layout.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[headerOffMagic:], h.Magic)
	binary.LittleEndian.PutUint16(buf[headerOffMajorVersion:], h.MajorVersion)
	binary.LittleEndian.PutUint16(buf[headerOffMinorVersion:], h.MinorVersion)
	binary.LittleEndian.PutUint16(buf[headerOffHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint64(buf[headerOffOpsOffset:], h.OpsOffset)
	binary.LittleEndian.PutUint64(buf[headerOffOpsSize:], h.OpsSize)
	binary.LittleEndian.PutUint64(buf[headerOffNumOps:], h.NumOps)
	binary.LittleEndian.PutUint32(buf[headerOffBlockSize:], h.BlockSize)
	copy(buf[headerOffHeaderChecksum:], h.HeaderChecksum[:])
	copy(buf[headerOffOpsChecksum:], h.OpsChecksum[:])
	return buf
}

// DecodeHeader parses a header from the first [HeaderSize] bytes of
// data. It performs no validation beyond the length check; callers
// (the reader) validate fields in a defined order so that bounds
// problems are reported before content problems.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, have %d: %w", HeaderSize, len(data), ErrFormat)
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint64(data[headerOffMagic:])
	h.MajorVersion = binary.LittleEndian.Uint16(data[headerOffMajorVersion:])
	h.MinorVersion = binary.LittleEndian.Uint16(data[headerOffMinorVersion:])
	h.HeaderSize = binary.LittleEndian.Uint16(data[headerOffHeaderSize:])
	h.OpsOffset = binary.LittleEndian.Uint64(data[headerOffOpsOffset:])
	h.OpsSize = binary.LittleEndian.Uint64(data[headerOffOpsSize:])
	h.NumOps = binary.LittleEndian.Uint64(data[headerOffNumOps:])
	h.BlockSize = binary.LittleEndian.Uint32(data[headerOffBlockSize:])
	copy(h.HeaderChecksum[:], data[headerOffHeaderChecksum:headerOffHeaderChecksum+32])
	copy(h.OpsChecksum[:], data[headerOffOpsChecksum:headerOffOpsChecksum+32])
	return h, nil
}

// OpKind identifies how an operation reconstructs its target block.
// These values are format constants.
type OpKind uint8

const (
	// OpCopy reconstructs the block from another block of the
	// backing device, identified by Operation.Source as a block
	// number. No payload bytes are stored.
	OpCopy OpKind = 0

	// OpReplace reconstructs the block from compressed payload
	// bytes stored in the container; Operation.Source is a byte
	// offset into the payload region.
	OpReplace OpKind = 1

	// OpZero reconstructs the block as all zeroes. No payload bytes
	// are stored.
	OpZero OpKind = 2
)

// String returns the human-readable name of an operation kind.
func (k OpKind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpReplace:
		return "replace"
	case OpZero:
		return "zero"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Operation is one record of the operation table: the reconstruction
// recipe for a single block of the target device.
type Operation struct {
	// Kind selects the reconstruction strategy.
	Kind OpKind

	// Compression identifies the codec applied to the payload bytes
	// of a replace operation. Meaningless for copy and zero.
	Compression Compression

	// DataLength is the number of payload bytes stored for this
	// operation. Always zero for copy and zero operations.
	DataLength uint16

	// NewBlock is the block number this operation reconstructs.
	NewBlock uint64

	// Source is a byte offset into the payload region for replace
	// operations, or a backing-device block number for copy
	// operations.
	Source uint64
}

// Operation wire layout offsets.
const (
	opOffKind        = 0
	opOffCompression = 1
	opOffDataLength  = 2
	opOffReserved    = 4 // four zero bytes, keeps NewBlock 8-aligned
	opOffNewBlock    = 8
	opOffSource      = 16
)

// Encode serializes the operation into its fixed wire layout.
func (op Operation) Encode() [OpSize]byte {
	var buf [OpSize]byte
	buf[opOffKind] = uint8(op.Kind)
	buf[opOffCompression] = uint8(op.Compression)
	binary.LittleEndian.PutUint16(buf[opOffDataLength:], op.DataLength)
	binary.LittleEndian.PutUint64(buf[opOffNewBlock:], op.NewBlock)
	binary.LittleEndian.PutUint64(buf[opOffSource:], op.Source)
	return buf
}

// decodeOperation parses one operation record from the first [OpSize]
// bytes of data. The caller guarantees the length.
func decodeOperation(data []byte) Operation {
	return Operation{
		Kind:        OpKind(data[opOffKind]),
		Compression: Compression(data[opOffCompression]),
		DataLength:  binary.LittleEndian.Uint16(data[opOffDataLength:]),
		NewBlock:    binary.LittleEndian.Uint64(data[opOffNewBlock:]),
		Source:      binary.LittleEndian.Uint64(data[opOffSource:]),
	}
}
