// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

// Package cow implements the snapfold copy-on-write container format
// and its read path.
//
// A container holds three regions: a fixed-size header at offset 0, a
// payload region of compressed block data, and an operation table
// describing how each modified block of the target device is
// reconstructed. The [Reader] validates the header once at open time
// and then serves header queries, forward-only traversal of the
// operation table via [OpIterator], bounded raw reads from the payload
// region, and per-operation decompression into a caller-supplied sink.
//
// Header and operation-table integrity is protected by keyed BLAKE3
// checksums with distinct domain keys, so a header checksum can never
// validate a table and vice versa.
//
// A Reader is not safe for concurrent use. Payload reads go through
// pread (ReadAt), so no file offset is shared, but an iterator and a
// decode in flight on the same Reader still represent one logical
// reading session; callers needing parallelism should open one Reader
// per session.
package cow
