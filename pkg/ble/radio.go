// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"tinygo.org/x/bluetooth"
)

// ConnectableInterval is the connectable advertising interval
const ConnectableInterval = 20 * time.Millisecond

// AddressSetter changes the controller's random address. BlueZ does not
// expose this through the adapter API, so it is supplied by the host
// (for example a mgmt socket helper).
type AddressSetter func(addr advsched.Address) error

// Radio adapts a bluetooth adapter to the connectable peripheral and to
// the beacon advertiser. Callers serialize access through the scheduler.
type Radio struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	tx      bluetooth.Characteristic
	setAddr AddressSetter
	logger  *slog.Logger

	mu      sync.Mutex
	current advsched.Address
	haveCur bool
}

// NewRadio wraps adapter. setAddr may be nil.
func NewRadio(adapter *bluetooth.Adapter, setAddr AddressSetter, logger *slog.Logger) *Radio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Radio{
		adapter: adapter,
		setAddr: setAddr,
		logger:  logger.With("component", "radio"),
	}
}

// Enable powers the adapter
func (r *Radio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", err)
	}
	r.adv = r.adapter.DefaultAdvertisement()
	return nil
}

// Serve registers the UART service and routes its events to p
func (r *Radio) Serve(p *Peripheral) error {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.HandleConnect(connected)
	})
	err := r.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.ServiceUUIDNordicUART,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  bluetooth.CharacteristicUUIDUARTRX,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					p.HandleWrite(value)
				},
			},
			{
				Handle: &r.tx,
				UUID:   bluetooth.CharacteristicUUIDUARTTX,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register UART service: %w", err)
	}
	return nil
}

// Notify sends one notification on the TX characteristic
func (r *Radio) Notify(chunk []byte) error {
	_, err := r.tx.Write(chunk)
	return err
}

// StartConnectable advertises the UART service under the device name
func (r *Radio) StartConnectable() error {
	err := r.adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeInd,
		LocalName:         DeviceName,
		ServiceUUIDs:      []bluetooth.UUID{bluetooth.ServiceUUIDNordicUART},
		Interval:          bluetooth.NewDuration(ConnectableInterval),
	})
	if err != nil {
		return err
	}
	return r.adv.Start()
}

// StopConnectable stops connectable advertising
func (r *Radio) StopConnectable() error {
	return r.adv.Stop()
}

// Address returns the address currently in use
func (r *Radio) Address() (advsched.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveCur {
		return r.current, nil
	}
	mac, err := r.adapter.Address()
	if err != nil {
		return advsched.Address{}, err
	}
	return advsched.Address(mac.MAC), nil
}

// SetAddress switches the advertising address. Without a setter the
// request is only recorded and the controller keeps its own address.
func (r *Radio) SetAddress(addr advsched.Address) error {
	if r.setAddr != nil {
		if err := r.setAddr(addr); err != nil {
			return err
		}
	} else {
		r.logger.Debug("no address setter, keeping controller address")
	}
	r.mu.Lock()
	r.current = addr
	r.haveCur = true
	r.mu.Unlock()
	return nil
}

// Configure loads a non-connectable beacon
func (r *Radio) Configure(b advsched.Beacon) error {
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		Interval:          bluetooth.NewDuration(b.Interval),
	}
	if len(b.ManufacturerData) > 0 {
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{
			{CompanyID: b.CompanyID, Data: b.ManufacturerData},
		}
	}
	if len(b.ServiceData) > 0 {
		opts.ServiceData = []bluetooth.ServiceDataElement{
			{UUID: bluetooth.New16BitUUID(b.ServiceUUID), Data: b.ServiceData},
		}
	}
	return r.adv.Configure(opts)
}

// Start starts the configured beacon
func (r *Radio) Start() error {
	return r.adv.Start()
}

// Stop stops the beacon
func (r *Radio) Stop() error {
	return r.adv.Stop()
}
