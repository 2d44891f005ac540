// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package cow

import "os"

func adviseSequential(file *os.File, offset, length int64) {}
