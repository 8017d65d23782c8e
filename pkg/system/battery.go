// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package system

// Single-cell Li-ion discharge curve, millivolts to state of charge
var (
	socMillivolts = [...]float32{3000, 3300, 3500, 3600, 3700, 3800, 3850, 3900, 3950, 4100, 4200}
	socPercent    = [...]float32{0, 5, 10, 20, 35, 50, 60, 70, 80, 95, 100}
)

// EstimateBatteryPercent interpolates the discharge curve. Readings outside
// the curve clamp to 0 or 100.
func EstimateBatteryPercent(mv float32) float32 {
	last := len(socMillivolts) - 1
	if mv <= socMillivolts[0] {
		return socPercent[0]
	}
	if mv >= socMillivolts[last] {
		return socPercent[last]
	}
	for idx := 1; idx <= last; idx++ {
		if mv > socMillivolts[idx] {
			continue
		}
		v1, v2 := socMillivolts[idx-1], socMillivolts[idx]
		p1, p2 := socPercent[idx-1], socPercent[idx]
		return p1 + (mv-v1)*(p2-p1)/(v2-v1)
	}
	return 0
}

// SetBattery records a filtered voltage reading. A non-positive reading
// marks the battery as unknown.
func (i *Info) SetBattery(volts float32) {
	if volts <= 0 {
		i.BatteryVoltage = nan32()
		i.BatteryPercent = 0
		return
	}
	i.BatteryVoltage = volts
	i.BatteryPercent = uint8(EstimateBatteryPercent(volts*1000) + 0.5)
}
