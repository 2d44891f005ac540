// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

// OpIterator traverses the operation table front to back, one record
// at a time. It owns its table buffer; obtain one from
// [Reader.OpIterator]. The iterator is single-pass: once Done reports
// true it cannot be rewound, only replaced by requesting a fresh
// iterator (which re-reads and re-validates the table).
//
// Calling Current or Advance on an exhausted iterator is a contract
// violation and panics; it is never a recoverable runtime condition.
type OpIterator struct {
	table []byte
	pos   int
	done  bool
}

func newOpIterator(table []byte) *OpIterator {
	it := &OpIterator{table: table}
	it.done = len(table) < OpSize
	return it
}

// Done reports whether the table has fewer than one full record left.
// Trailing bytes shorter than a record are an end-of-table signal,
// not an error.
func (it *OpIterator) Done() bool {
	return it.done
}

// Current decodes the record at the iterator's position. The record
// is returned by value: it stays valid after the iterator advances or
// is discarded.
func (it *OpIterator) Current() Operation {
	if it.done {
		panic("cow: Current called on exhausted operation iterator")
	}
	return decodeOperation(it.table[it.pos:])
}

// Advance moves past the current record.
func (it *OpIterator) Advance() {
	if it.done {
		panic("cow: Advance called on exhausted operation iterator")
	}
	it.pos += OpSize
	it.done = len(it.table)-it.pos < OpSize
}
