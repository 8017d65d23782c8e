// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package fmdn implements the Google Find My Device Network tag: the
// ephemeral identifier derived from the EIK, the Eddystone payload and
// address, and the advertising engine.
package fmdn

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/meridian/pkg/fmdn/secp160r1"
)

// EID constants
const (
	EIKSize   = 32
	EIDSize   = secp160r1.FieldSize
	RotationK = 10

	RotationSeconds = 1 << RotationK
)

// ErrDegenerateScalar is returned for the (practically unreachable) case
// of an EID scalar congruent to zero
var ErrDegenerateScalar = errors.New("fmdn: EID scalar is zero")

// EID is the identifier for one rotation slot
type EID struct {
	ID [EIDSize]byte

	// FlagsMask is XORed into the raw flags byte
	FlagsMask byte
}

// AESInput builds the 32-byte block encrypted with the EIK
func AESInput(ts uint64) [32]byte {
	masked := uint32(ts) &^ (RotationSeconds - 1)
	var b [32]byte
	for i := 0; i < 11; i++ {
		b[i] = 0xFF
	}
	b[11] = RotationK
	binary.BigEndian.PutUint32(b[12:16], masked)
	b[27] = RotationK
	binary.BigEndian.PutUint32(b[28:32], masked)
	return b
}

// ComputeEID derives the identifier in effect at unix time ts
func ComputeEID(eik [EIKSize]byte, ts uint64) (EID, error) {
	block, err := aes.NewCipher(eik[:])
	if err != nil {
		return EID{}, fmt.Errorf("fmdn: cipher setup failed: %w", err)
	}
	in := AESInput(ts)
	var rPrime [32]byte
	block.Encrypt(rPrime[:16], in[:16])
	block.Encrypt(rPrime[16:], in[16:])

	r := secp160r1.Reduce(rPrime[:])
	if r.Sign() == 0 {
		return EID{}, ErrDegenerateScalar
	}
	pt := secp160r1.ScalarBaseMult(r)
	if pt.Infinity {
		return EID{}, ErrDegenerateScalar
	}

	// n is one bit wider than a coordinate; the top byte is dropped
	var rb [EIDSize + 1]byte
	r.FillBytes(rb[:])
	sum := sha256.Sum256(rb[1:])

	return EID{ID: pt.X, FlagsMask: sum[0]}, nil
}

// Slot returns the rotation counter for ts
func Slot(ts uint64) uint64 {
	return ts / RotationSeconds
}

// UntilRotation returns the time left until the next 1024 s boundary
func UntilRotation(ts uint64) time.Duration {
	return time.Duration(RotationSeconds-ts%RotationSeconds) * time.Second
}
