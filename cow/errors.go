// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import "errors"

// Error classes for container validation and reads. Specific failures
// wrap one of these, so callers can classify with errors.Is without
// parsing message text.
var (
	// ErrFormat marks an unrecoverable format problem: wrong magic,
	// version mismatch, unknown header size, or an unsupported
	// compression code. Retrying with the same file is pointless.
	ErrFormat = errors.New("invalid container format")

	// ErrIntegrity marks a checksum mismatch on the header or the
	// operation table. The file is corrupt or has been tampered
	// with; it is unrecoverable for that file.
	ErrIntegrity = errors.New("container checksum mismatch")

	// ErrBounds marks an offset or length that violates the
	// container's region layout: an operation table that does not
	// fit the file, or a raw read outside the payload region.
	ErrBounds = errors.New("offset outside container bounds")
)
