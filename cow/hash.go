// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package cow

import "github.com/zeebo/blake3"

// Container checksums are keyed BLAKE3 digests. Domain separation
// between the header and the operation table means a digest computed
// over one region can never validate the other, even if an attacker
// can choose the bytes. The keys are fixed format constants: the
// ASCII domain name zero-padded to 32 bytes, readable in a debugger
// without weakening the construction (keyed BLAKE3 treats the key as
// an opaque 32-byte value).
var (
	headerDomainKey = [32]byte{
		's', 'n', 'a', 'p', 'f', 'o', 'l', 'd', '.', 'c', 'o', 'w', '.',
		'h', 'e', 'a', 'd', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	opsDomainKey = [32]byte{
		's', 'n', 'a', 'p', 'f', 'o', 'l', 'd', '.', 'c', 'o', 'w', '.',
		'o', 'p', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// ChecksumHeader computes the header checksum: the keyed hash of the
// encoded header with the HeaderChecksum field itself zeroed. The
// OpsChecksum field is covered, binding the table digest into the
// header.
func ChecksumHeader(h Header) [32]byte {
	h.HeaderChecksum = [32]byte{}
	encoded := h.Encode()
	return keyedChecksum(headerDomainKey, encoded[:])
}

// ChecksumOps computes the operation-table checksum over the raw
// table bytes.
func ChecksumOps(table []byte) [32]byte {
	return keyedChecksum(opsDomainKey, table)
}

func keyedChecksum(key [32]byte, data []byte) [32]byte {
	// NewKeyed fails only on a wrong key length, which the fixed
	// array type rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("cow: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}
