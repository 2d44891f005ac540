// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package cow

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints that the given file range is about to be
// read front to back, so the kernel can read ahead aggressively.
// Best effort: failure changes nothing about correctness.
func adviseSequential(file *os.File, offset, length int64) {
	_ = unix.Fadvise(int(file.Fd()), offset, length, unix.FADV_SEQUENTIAL)
}
