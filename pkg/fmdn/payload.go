// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package fmdn

import (
	"crypto/sha256"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
)

// Advertisement constants
const (
	EddystoneUUID = 0xFEAA
	PayloadSize   = 29
	AdvInterval   = 2 * time.Second

	FrameType    = 0x40
	FrameTypeUTP = 0x41
)

// BatteryFlags encodes the charge level in bits 5-6 of the raw flags
func BatteryFlags(percent uint8) uint8 {
	switch {
	case percent > 30:
		return 0b01 << 5
	case percent > 10:
		return 0b10 << 5
	default:
		return 0b11 << 5
	}
}

// Payload builds the Eddystone service-data advertising block
func Payload(eid EID, flags uint8, utp bool) [PayloadSize]byte {
	var p [PayloadSize]byte
	p[0] = 0x02 // flags AD
	p[1] = 0x01
	p[2] = 0x06
	p[3] = 0x19 // service data AD
	p[4] = 0x16
	p[5] = EddystoneUUID & 0xff
	p[6] = EddystoneUUID >> 8
	p[7] = FrameType
	if utp {
		p[7] = FrameTypeUTP
	}
	copy(p[8:28], eid.ID[:])
	p[28] = eid.FlagsMask ^ flags
	return p
}

// Address derives the random static address for an EID, LSB first
func Address(eid EID) advsched.Address {
	sum := sha256.Sum256(eid.ID[:])
	var a advsched.Address
	copy(a[:], sum[:6])
	a[5] |= 0xC0
	return a
}

// Beacon wraps a payload for the advertiser
func Beacon(eid EID, percent uint8, utp bool) advsched.Beacon {
	p := Payload(eid, BatteryFlags(percent), utp)
	return advsched.Beacon{
		Address:     Address(eid),
		Interval:    AdvInterval,
		ServiceUUID: EddystoneUUID,
		ServiceData: append([]byte(nil), p[7:]...),
	}
}
