// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"fmt"
	"math"
	"os"
)

// Writer builds a snapfold container in memory and emits it as a
// single atomic file write. It exists for container production in
// tooling and tests; the live update path builds containers out of
// process.
//
// Operations are appended in order. Replace payloads are compressed
// with the requested codec, falling back to verbatim storage when a
// block is incompressible, and the per-operation record captures the
// codec actually used.
type Writer struct {
	blockSize uint32
	payload   []byte
	ops       []Operation
}

// NewWriter returns a Writer for containers with the given device
// block size. Panics on a zero block size: that is a programming
// error, not an input error.
func NewWriter(blockSize uint32) *Writer {
	if blockSize == 0 {
		panic("cow: NewWriter with zero block size")
	}
	return &Writer{blockSize: blockSize}
}

// BlockSize returns the device block size the container is built
// against.
func (w *Writer) BlockSize() uint32 {
	return w.blockSize
}

// AddReplace appends a replace operation reconstructing newBlock from
// the given bytes, at most one block's worth. The payload is encoded
// with the requested codec; if the codec cannot shrink it the bytes
// are stored verbatim under CompressionNone.
func (w *Writer) AddReplace(newBlock uint64, data []byte, c Compression) error {
	if len(data) == 0 {
		return fmt.Errorf("replace op for block %d with no data", newBlock)
	}
	if uint64(len(data)) > uint64(w.blockSize) {
		return fmt.Errorf("replace op for block %d: %d bytes exceeds block size %d",
			newBlock, len(data), w.blockSize)
	}

	encoded, err := Compress(data, c)
	used := c
	if err != nil {
		if !IsIncompressible(err) {
			return err
		}
		encoded = data
		used = CompressionNone
	}
	if len(encoded) > math.MaxUint16 {
		return fmt.Errorf("replace op for block %d: %d-byte payload exceeds record limit",
			newBlock, len(encoded))
	}

	w.ops = append(w.ops, Operation{
		Kind:        OpReplace,
		Compression: used,
		DataLength:  uint16(len(encoded)),
		NewBlock:    newBlock,
		Source:      HeaderSize + uint64(len(w.payload)),
	})
	w.payload = append(w.payload, encoded...)
	return nil
}

// AddCopy appends a copy operation reconstructing newBlock from
// sourceBlock of the backing device.
func (w *Writer) AddCopy(newBlock, sourceBlock uint64) {
	w.ops = append(w.ops, Operation{
		Kind:     OpCopy,
		NewBlock: newBlock,
		Source:   sourceBlock,
	})
}

// AddZero appends a zero operation for newBlock.
func (w *Writer) AddZero(newBlock uint64) {
	w.ops = append(w.ops, Operation{
		Kind:     OpZero,
		NewBlock: newBlock,
	})
}

// AddData splits data into block-size chunks and appends one replace
// operation per chunk, starting at startBlock. The final chunk may be
// shorter than a block.
func (w *Writer) AddData(startBlock uint64, data []byte, c Compression) error {
	block := startBlock
	for len(data) > 0 {
		chunk := data
		if uint64(len(chunk)) > uint64(w.blockSize) {
			chunk = chunk[:w.blockSize]
		}
		if err := w.AddReplace(block, chunk, c); err != nil {
			return err
		}
		data = data[len(chunk):]
		block++
	}
	return nil
}

// Encode serializes the container: header, payload region, operation
// table, with both checksums computed over the final bytes.
func (w *Writer) Encode() []byte {
	table := make([]byte, 0, len(w.ops)*OpSize)
	for _, op := range w.ops {
		record := op.Encode()
		table = append(table, record[:]...)
	}

	header := Header{
		Magic:        Magic,
		MajorVersion: MajorVersion,
		MinorVersion: MinorVersion,
		HeaderSize:   HeaderSize,
		OpsOffset:    HeaderSize + uint64(len(w.payload)),
		OpsSize:      uint64(len(table)),
		NumOps:       uint64(len(w.ops)),
		BlockSize:    w.blockSize,
		OpsChecksum:  ChecksumOps(table),
	}
	header.HeaderChecksum = ChecksumHeader(header)

	out := make([]byte, 0, HeaderSize+len(w.payload)+len(table)+1)
	encodedHeader := header.Encode()
	out = append(out, encodedHeader[:]...)
	out = append(out, w.payload...)
	out = append(out, table...)

	// The reader requires ops_offset to lie strictly inside the
	// file. An empty container (no ops, no payload) would place the
	// zero-length table exactly at end of file, so pad one byte.
	if len(table) == 0 {
		out = append(out, 0)
	}
	return out
}

// WriteFile writes the encoded container to path atomically: the
// bytes go to a temporary file in the same directory, are synced, and
// the file is renamed into place. Readers never observe a partial
// container at path.
func (w *Writer) WriteFile(path string) error {
	data := w.Encode()
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temporary container file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing container: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing container: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing container: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming container into place: %w", err)
	}
	return nil
}
