// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import (
	"fmt"
	"strings"
)

var classNames = map[uint8]string{
	ClassNAV: "NAV",
	ClassTIM: "TIM",
	ClassRXM: "RXM",
	ClassACK: "ACK",
	ClassCFG: "CFG",
	ClassMSG: "MSG",
	ClassMON: "MON",
	ClassAID: "AID",
}

var messageNames = map[[2]uint8]string{
	{ClassACK, MsgNACK}:   "ACK-NACK",
	{ClassACK, MsgACK}:    "ACK-ACK",
	{ClassMSG, MsgBDSUTC}: "MSG-BDSUTC",
	{ClassMSG, MsgBDSION}: "MSG-BDSION",
	{ClassMSG, MsgBDSEPH}: "MSG-BDSEPH",
	{ClassMSG, MsgGPSUTC}: "MSG-GPSUTC",
	{ClassMSG, MsgGPSION}: "MSG-GPSION",
	{ClassMSG, MsgGPSEPH}: "MSG-GPSEPH",
	{ClassAID, MsgAIDINI}: "AID-INI",
}

// FormatMessageName returns the human-readable name for a class/id pair
func FormatMessageName(class, id uint8) string {
	if name, ok := messageNames[[2]uint8{class, id}]; ok {
		return name
	}
	if name, ok := classNames[class]; ok {
		return fmt.Sprintf("%s-%02X", name, id)
	}
	return "UNKNOWN"
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X/0x%02X) len=%d\n",
		timestamp, FormatMessageName(f.class, f.id), f.class, f.id, len(f.payload))

	if class, id, ok := f.AckedMessage(); ok {
		return result + fmt.Sprintf("  For: %s (0x%02X/0x%02X)\n", FormatMessageName(class, id), class, id)
	}
	if len(f.payload) > 0 {
		result += formatHexDump(f.payload)
	}
	return result
}

func formatHexDump(payload []byte) string {
	var sb strings.Builder
	sb.WriteString("  Payload: ")
	for i, b := range payload {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n           ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}
