// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import "encoding/binary"

// CalculateChecksum computes the CASIC additive checksum for a frame.
// Trailing bytes that do not fill a whole word are not summed.
func CalculateChecksum(class, id uint8, payload []byte) uint32 {
	sum := uint32(id)<<24 + uint32(class)<<16 + uint32(len(payload))
	for i := 0; i+4 <= len(payload); i += 4 {
		sum += binary.LittleEndian.Uint32(payload[i:])
	}
	return sum
}
