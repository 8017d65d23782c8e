// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package system

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gpsStateMetric = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "gps_state",
	Help: "current state of the GPS duty-cycle controller (0-5)",
})
