// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package gnss

const (
	speedSamples        = 10
	speedSampleInterval = 20

	// HighSpeedThreshold relaxes the HDOP gate when the average exceeds it (km/h)
	HighSpeedThreshold = 20.0
)

// SpeedAverage is a decimated running mean of ground speed. Every
// twentieth sample is kept in a ring of ten; the mean counts only
// positive entries.
type SpeedAverage struct {
	samples [speedSamples]float32
	next    int
	calls   uint32
}

// Reset clears all samples
func (a *SpeedAverage) Reset() {
	*a = SpeedAverage{}
}

// Add offers one speed sample in km/h
func (a *SpeedAverage) Add(kmh float32) {
	a.calls++
	if a.calls%speedSampleInterval != 0 {
		return
	}
	a.samples[a.next] = kmh
	a.next = (a.next + 1) % speedSamples
}

// Mean returns the average of the positive retained samples, or 0
func (a *SpeedAverage) Mean() float32 {
	var sum float32
	count := 0
	for _, v := range a.samples {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float32(count)
}

// HighSpeed reports whether the mean exceeds HighSpeedThreshold
func (a *SpeedAverage) HighSpeed() bool {
	return a.Mean() > HighSpeedThreshold
}
