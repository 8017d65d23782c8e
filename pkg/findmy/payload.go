// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package findmy

import (
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
)

// Advertisement constants
const (
	AppleCompanyID     = 0x004C
	offlineFindingType = 0x12
	PayloadSize        = 31
	AdvInterval        = 2 * time.Second
)

// BatteryStatus maps a charge percentage to the status byte
func BatteryStatus(percent uint8) uint8 {
	switch {
	case percent > 80:
		return 0x10
	case percent > 30:
		return 0x50
	case percent > 10:
		return 0x90
	default:
		return 0xD0
	}
}

// Payload builds the 31-byte manufacturer-specific advertising block
func Payload(x [PrivateKeySize]byte, status uint8) [PayloadSize]byte {
	var p [PayloadSize]byte
	p[0] = 0x1e // length
	p[1] = 0xff // manufacturer specific
	p[2] = AppleCompanyID & 0xff
	p[3] = AppleCompanyID >> 8
	p[4] = offlineFindingType
	p[5] = 0x19
	p[6] = status
	copy(p[7:29], x[6:28])
	p[29] = x[0] >> 6
	p[30] = 0x00
	return p
}

// Address derives the random static address from the key, LSB first
func Address(x [PrivateKeySize]byte) advsched.Address {
	return advsched.Address{x[5], x[4], x[3], x[2], x[1], x[0] | 0xC0}
}

// Beacon wraps a payload for the advertiser
func Beacon(x [PrivateKeySize]byte, percent uint8) advsched.Beacon {
	p := Payload(x, BatteryStatus(percent))
	return advsched.Beacon{
		Address:          Address(x),
		Interval:         AdvInterval,
		CompanyID:        AppleCompanyID,
		ManufacturerData: append([]byte(nil), p[4:]...),
	}
}
