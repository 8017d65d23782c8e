// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package findmy

import (
	"encoding/binary"
	"errors"
	"time"
)

// Sizes of the persisted blobs
const (
	PrivateKeySize = 28
	SymmetricSize  = 32
	KeysSize       = PrivateKeySize + SymmetricSize + 8
	CacheSize      = SymmetricSize + 4
)

// RotationSeconds is the length of one key slot
const RotationSeconds = 900

// ErrKeySize is returned for a key blob that is not KeysSize bytes
var ErrKeySize = errors.New("findmy: key blob must be 68 bytes")

// Keys is the provisioned master key material
type Keys struct {
	PrivateKey   [PrivateKeySize]byte
	SymmetricKey [SymmetricSize]byte

	// Epoch is the unix time of counter zero
	Epoch uint64
}

// ParseKeys decodes [private_key:28 | SK0:32 | epoch:8 LE]
func ParseKeys(b []byte) (Keys, error) {
	var k Keys
	if len(b) != KeysSize {
		return k, ErrKeySize
	}
	copy(k.PrivateKey[:], b[:28])
	copy(k.SymmetricKey[:], b[28:60])
	k.Epoch = binary.LittleEndian.Uint64(b[60:68])
	return k, nil
}

// MarshalBinary encodes k in the provisioning layout
func (k Keys) MarshalBinary() ([]byte, error) {
	b := make([]byte, KeysSize)
	copy(b[:28], k.PrivateKey[:])
	copy(b[28:60], k.SymmetricKey[:])
	binary.LittleEndian.PutUint64(b[60:], k.Epoch)
	return b, nil
}

// Counter returns the key slot index for unix time ts. Slots are aligned
// to absolute 15-minute UTC boundaries. It returns false before the epoch.
func (k Keys) Counter(ts uint64) (uint32, bool) {
	if ts < k.Epoch {
		return 0, false
	}
	return uint32(ts/RotationSeconds - k.Epoch/RotationSeconds), true
}

// UntilRotation returns the time left in the slot containing ts
func UntilRotation(ts uint64) time.Duration {
	return time.Duration(RotationSeconds-ts%RotationSeconds) * time.Second
}

// SKCache remembers the last derived symmetric key so derivation does not
// iterate from SK0 on every rotation
type SKCache struct {
	SK      [SymmetricSize]byte
	Counter uint32
	Valid   bool
}

// MarshalBinary encodes [SK:32 | counter:4 LE]
func (c SKCache) MarshalBinary() ([]byte, error) {
	b := make([]byte, CacheSize)
	copy(b, c.SK[:])
	binary.LittleEndian.PutUint32(b[32:], c.Counter)
	return b, nil
}

// UnmarshalBinary decodes a cache blob. A short blob leaves c invalid.
func (c *SKCache) UnmarshalBinary(b []byte) error {
	if len(b) < CacheSize {
		*c = SKCache{}
		return errors.New("findmy: short SK cache")
	}
	copy(c.SK[:], b[:32])
	c.Counter = binary.LittleEndian.Uint32(b[32:36])
	c.Valid = true
	return nil
}
