// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package sensors

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
)

// IIOChannel reads a Linux industrial-I/O ADC channel such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw
type IIOChannel struct {
	Path string
}

// Read returns the channel's raw count
func (c IIOChannel) Read() (analog.Sample, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("read %s: %w", c.Path, err)
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("parse %s: %w", c.Path, err)
	}
	return analog.Sample{Raw: int32(raw)}, nil
}
