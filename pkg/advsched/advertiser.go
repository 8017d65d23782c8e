// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package advsched

import "time"

// Address is a BLE device address in LSB-first order
type Address [6]byte

// Beacon is one non-connectable advertisement. Exactly one of the
// manufacturer or service data blocks is normally set.
type Beacon struct {
	Address  Address
	Interval time.Duration

	CompanyID        uint16
	ManufacturerData []byte

	ServiceUUID uint16
	ServiceData []byte
}

// Advertiser drives the radio for a beacon. Callers must hold a Guard.
type Advertiser interface {
	// Address returns the identity address so it can be restored
	Address() (Address, error)
	SetAddress(addr Address) error
	Configure(b Beacon) error
	Start() error
	Stop() error
}
