// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package protocol implements the file-transfer protocol spoken over the
// BLE UART service: the device-side session, response fragmentation, and
// a host-side client.
//
// A command is [cmd:1][len:2 LE][payload]; a response is [len:2 LE][payload].
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command IDs
const (
	CmdListDir         uint8 = 0x01
	CmdOpenFile        uint8 = 0x02
	CmdReadChunk       uint8 = 0x03
	CmdCloseFile       uint8 = 0x04
	CmdDeleteFile      uint8 = 0x05
	CmdGetSystemInfo   uint8 = 0x06
	CmdStartAGNSSWrite uint8 = 0x07
	CmdWriteAGNSSChunk uint8 = 0x08
	CmdEndAGNSSWrite   uint8 = 0x09
	CmdGPSWakeup       uint8 = 0x0A
	CmdGPSKeepAlive    uint8 = 0x0B
	CmdWriteFindMyKeys uint8 = 0x0C
	CmdReadFindMyKeys  uint8 = 0x0D
	CmdGetFindMyStatus uint8 = 0x0E
)

// Size limits
const (
	MaxCommandPayload  = 570
	MaxResponsePayload = 256
	MaxReadChunk       = 254
	MaxListEntry       = 128
	HeaderSize         = 3
	LengthSize         = 2
)

// List-dir response markers
const (
	ListDone  uint8 = 0x00
	ListEntry uint8 = 0x01
)

// Errors
var (
	ErrCommandTooLarge  = errors.New("protocol: command payload too large")
	ErrResponseTooLarge = errors.New("protocol: response payload too large")
	ErrEmptyResponse    = errors.New("protocol: command failed on device")
	ErrMalformed        = errors.New("protocol: malformed response")
)

// CommandName returns a short name for a command ID
func CommandName(id uint8) string {
	switch id {
	case CmdListDir:
		return "LIST_DIR"
	case CmdOpenFile:
		return "OPEN_FILE"
	case CmdReadChunk:
		return "READ_CHUNK"
	case CmdCloseFile:
		return "CLOSE_FILE"
	case CmdDeleteFile:
		return "DELETE_FILE"
	case CmdGetSystemInfo:
		return "GET_SYS_INFO"
	case CmdStartAGNSSWrite:
		return "START_AGNSS_WRITE"
	case CmdWriteAGNSSChunk:
		return "WRITE_AGNSS_CHUNK"
	case CmdEndAGNSSWrite:
		return "END_AGNSS_WRITE"
	case CmdGPSWakeup:
		return "GPS_WAKEUP"
	case CmdGPSKeepAlive:
		return "GPS_KEEP_ALIVE"
	case CmdWriteFindMyKeys:
		return "WRITE_FINDMY_KEYS"
	case CmdReadFindMyKeys:
		return "READ_FINDMY_KEYS"
	case CmdGetFindMyStatus:
		return "GET_FINDMY_STATUS"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", id)
	}
}

// EncodeCommand frames a command
func EncodeCommand(id uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxCommandPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrCommandTooLarge, len(payload))
	}
	b := make([]byte, 0, HeaderSize+len(payload))
	b = append(b, id)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...), nil
}

// EncodeResponse frames a response
func EncodeResponse(payload []byte) ([]byte, error) {
	if len(payload) > MaxResponsePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, len(payload))
	}
	b := make([]byte, 0, LengthSize+len(payload))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...), nil
}

// PathPayload encodes a path argument as [len:1][path]
func PathPayload(path string) ([]byte, error) {
	if len(path) > 255 {
		return nil, fmt.Errorf("protocol: path too long: %d bytes", len(path))
	}
	return append([]byte{byte(len(path))}, path...), nil
}

// parsePath decodes [len:1][path], clamping len to the bytes present
func parsePath(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	n := int(payload[0])
	if n > len(payload)-1 {
		n = len(payload) - 1
	}
	return string(payload[1 : 1+n])
}
