// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriterEmptyContainerIsReadable(t *testing.T) {
	writer := NewWriter(testBlockSize)
	path := filepath.Join(t.TempDir(), "empty.cow")
	if err := writer.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if reader.Header().NumOps != 0 {
		t.Errorf("num ops: got %d, want 0", reader.Header().NumOps)
	}
	iterator, err := reader.OpIterator()
	if err != nil {
		t.Fatalf("OpIterator: %v", err)
	}
	if !iterator.Done() {
		t.Error("iterator over empty table not immediately done")
	}
}

func TestWriterRejectsOversizedReplace(t *testing.T) {
	writer := NewWriter(512)
	if err := writer.AddReplace(0, make([]byte, 513), CompressionNone); err == nil {
		t.Fatal("oversized replace accepted")
	}
	if err := writer.AddReplace(0, nil, CompressionNone); err == nil {
		t.Fatal("empty replace accepted")
	}
}

func TestWriterAtomicWriteLeavesNoTemporary(t *testing.T) {
	writer := NewWriter(testBlockSize)
	if err := writer.AddData(0, patternBytes(testBlockSize), CompressionLZ4); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "out.cow")
	if err := writer.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary file left behind after rename")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory holds %d entries, want just the container", len(entries))
	}
}

func TestWriterSourceOffsetsTrackPayload(t *testing.T) {
	writer := NewWriter(testBlockSize)
	first := patternBytes(testBlockSize)
	if err := writer.AddReplace(0, first, CompressionNone); err != nil {
		t.Fatalf("AddReplace: %v", err)
	}
	if err := writer.AddReplace(1, first, CompressionNone); err != nil {
		t.Fatalf("AddReplace: %v", err)
	}

	if writer.ops[0].Source != HeaderSize {
		t.Errorf("first op source: got %d, want %d", writer.ops[0].Source, HeaderSize)
	}
	want := uint64(HeaderSize + testBlockSize)
	if writer.ops[1].Source != want {
		t.Errorf("second op source: got %d, want %d", writer.ops[1].Source, want)
	}
}
