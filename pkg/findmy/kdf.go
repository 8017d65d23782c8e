// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package findmy

import (
	"crypto/sha256"
	"encoding/binary"
)

// KDF is the ANSI X9.63 key derivation function over SHA-256:
// SHA256(input || counter_be32 || sharedInfo) for counter = 1, 2, ...
// concatenated and truncated to n bytes.
func KDF(input, sharedInfo []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	var counter [4]byte
	for c := uint32(1); len(out) < n; c++ {
		binary.BigEndian.PutUint32(counter[:], c)
		h := sha256.New()
		h.Write(input)
		h.Write(counter[:])
		h.Write(sharedInfo)
		out = h.Sum(out)
	}
	return out[:n]
}

var (
	labelUpdate    = []byte("update")
	labelDiversify = []byte("diversify")
)

// advanceSK applies the "update" step from counter from to counter to
func advanceSK(sk [32]byte, from, to uint32) [32]byte {
	for i := from; i < to; i++ {
		copy(sk[:], KDF(sk[:], labelUpdate, 32))
	}
	return sk
}
