// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package protocol

import (
	"encoding/binary"
	"log/slog"

	"github.com/Thermoquad/meridian/pkg/agnss"
	"github.com/Thermoquad/meridian/pkg/logstore"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "protocol_commands",
	Help: "File-transfer commands processed, by command",
}, []string{"command"})

// Storage is the file surface of the SD volume. *logstore.Store satisfies it.
type Storage interface {
	ListDirNext(path string) (entry logstore.Entry, done bool, err error)
	OpenFile(path string) (uint32, error)
	ReadFile(offset uint32, buf []byte) (int, error)
	CloseFile()
	DeleteFile(path string) error
}

// GPSControl steers the receiver duty cycle. *gps.Control satisfies it.
type GPSControl interface {
	TriggerWakeup()
	SetKeepAlive(minutes uint16)
	KeepAliveRemaining() uint16
}

// AGNSSQueue receives finished uploads. *agnss.Pipeline satisfies it.
type AGNSSQueue interface {
	SetQueue(msgs [][]byte) error
}

// KeyStore holds the Find My keys. *findmy.Engine satisfies it.
type KeyStore interface {
	Provision(blob []byte) error
	KeysBlob() ([]byte, bool)
	Enabled() bool
}

// Config wires a Session. FindMy may be nil, in which case the key
// commands answer like unknown commands.
type Config struct {
	Storage Storage
	System  *system.System
	GPS     GPSControl
	AGNSS   AGNSSQueue
	FindMy  KeyStore
	Logger  *slog.Logger
}

type parseState int

const (
	stateCommandID parseState = iota
	stateLengthLow
	stateLengthHigh
	statePayload
)

// findMyKeysSize is the provisioning blob size
const findMyKeysSize = 68

// Session is one connection's command parser and dispatcher. It is not
// safe for concurrent use; feed it from a single reader.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state   parseState
	cmd     uint8
	length  int
	payload []byte

	agnssMsgs   [][]byte
	agnssActive bool
}

// NewSession creates a session waiting for a command byte
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.With("component", "protocol"),
		payload: make([]byte, 0, MaxCommandPayload),
	}
}

// Reset drops any partial command. Staged AGNSS messages survive.
func (s *Session) Reset() {
	s.state = stateCommandID
	s.cmd = 0
	s.length = 0
	s.payload = s.payload[:0]
}

// PushByte feeds one received byte. When it completes a command the
// framed response is returned.
func (s *Session) PushByte(b byte) ([]byte, bool) {
	switch s.state {
	case stateCommandID:
		s.cmd = b
		s.state = stateLengthLow
	case stateLengthLow:
		s.length = int(b)
		s.state = stateLengthHigh
	case stateLengthHigh:
		s.length |= int(b) << 8
		if s.length > MaxCommandPayload {
			s.logger.Warn("command too large, resetting", "command", CommandName(s.cmd), "length", s.length)
			s.Reset()
			return nil, false
		}
		if s.length == 0 {
			return s.dispatch(), true
		}
		s.payload = s.payload[:0]
		s.state = statePayload
	case statePayload:
		s.payload = append(s.payload, b)
		if len(s.payload) == s.length {
			return s.dispatch(), true
		}
	}
	return nil, false
}

// Feed pushes data and returns every response it completed
func (s *Session) Feed(data []byte) [][]byte {
	var out [][]byte
	for _, b := range data {
		if resp, ok := s.PushByte(b); ok {
			out = append(out, resp)
		}
	}
	return out
}

func (s *Session) dispatch() []byte {
	cmd := s.cmd
	payload := s.payload[:s.length]
	commandsMetric.WithLabelValues(CommandName(cmd)).Inc()
	s.logger.Debug("command", "command", CommandName(cmd), "length", len(payload))

	resp := s.handle(cmd, payload)
	s.Reset()

	if len(resp) > MaxResponsePayload {
		resp = resp[:MaxResponsePayload]
	}
	out, _ := EncodeResponse(resp)
	return out
}

func (s *Session) handle(cmd uint8, payload []byte) []byte {
	switch cmd {
	case CmdListDir:
		return s.listDir(parsePath(payload))
	case CmdOpenFile:
		return s.openFile(parsePath(payload))
	case CmdReadChunk:
		return s.readChunk(payload)
	case CmdCloseFile:
		s.cfg.Storage.CloseFile()
		return nil
	case CmdDeleteFile:
		if err := s.cfg.Storage.DeleteFile(parsePath(payload)); err != nil {
			s.logger.Warn("delete failed", "error", err)
		}
		return nil
	case CmdGetSystemInfo:
		return s.systemInfo()
	case CmdStartAGNSSWrite:
		s.agnssMsgs = s.agnssMsgs[:0]
		s.agnssActive = true
		s.logger.Info("AGNSS write start")
		return nil
	case CmdWriteAGNSSChunk:
		s.agnssChunk(payload)
		return nil
	case CmdEndAGNSSWrite:
		s.agnssEnd()
		return nil
	case CmdGPSWakeup:
		s.cfg.GPS.TriggerWakeup()
		return nil
	case CmdGPSKeepAlive:
		var minutes uint16
		if len(payload) >= 2 {
			minutes = binary.LittleEndian.Uint16(payload)
		}
		s.cfg.GPS.SetKeepAlive(minutes)
		return nil
	case CmdWriteFindMyKeys:
		return s.writeKeys(payload)
	case CmdReadFindMyKeys:
		if s.cfg.FindMy == nil {
			return nil
		}
		blob, ok := s.cfg.FindMy.KeysBlob()
		if !ok {
			return nil
		}
		return blob
	case CmdGetFindMyStatus:
		if s.cfg.FindMy == nil {
			return nil
		}
		return []byte{boolByte(s.cfg.FindMy.Enabled())}
	default:
		s.logger.Debug("unknown command", "command", CommandName(cmd))
		return nil
	}
}

func (s *Session) listDir(path string) []byte {
	entry, done, err := s.cfg.Storage.ListDirNext(path)
	if err != nil {
		s.logger.Warn("list failed", "path", path, "error", err)
		return nil
	}
	if done {
		return []byte{ListDone}
	}

	maxName := MaxListEntry - 3
	if !entry.IsDir {
		maxName -= 4
	}
	name := entry.Name
	if len(name) > maxName {
		name = name[:maxName]
	}
	b := []byte{ListEntry, boolByte(entry.IsDir), byte(len(name))}
	b = append(b, name...)
	if !entry.IsDir {
		b = binary.LittleEndian.AppendUint32(b, entry.Size)
	}
	return b
}

func (s *Session) openFile(path string) []byte {
	size, err := s.cfg.Storage.OpenFile(path)
	if err != nil {
		s.logger.Warn("open failed", "path", path, "error", err)
		return nil
	}
	return binary.LittleEndian.AppendUint32(nil, size)
}

func (s *Session) readChunk(payload []byte) []byte {
	if len(payload) < 6 {
		return []byte{0, 0}
	}
	offset := binary.LittleEndian.Uint32(payload[0:4])
	count := int(binary.LittleEndian.Uint16(payload[4:6]))
	if count > MaxReadChunk {
		count = MaxReadChunk
	}

	resp := make([]byte, 2+count)
	n, err := s.cfg.Storage.ReadFile(offset, resp[2:])
	if err != nil {
		s.logger.Warn("read failed", "offset", offset, "error", err)
		n = 0
	}
	binary.LittleEndian.PutUint16(resp, uint16(n))
	return resp[:2+n]
}

func (s *Session) systemInfo() []byte {
	info := s.cfg.System.Snapshot()
	if s.cfg.GPS != nil {
		info.KeepAliveRemaining = s.cfg.GPS.KeepAliveRemaining()
	}
	b, _ := info.MarshalBinary()
	return b
}

func (s *Session) agnssChunk(payload []byte) {
	if !s.agnssActive {
		s.logger.Warn("AGNSS chunk ignored: no write in progress")
		return
	}
	if len(payload) < 2 {
		s.logger.Warn("AGNSS chunk ignored: payload too short")
		return
	}
	size := int(binary.LittleEndian.Uint16(payload))
	if size == 0 || size > len(payload)-2 {
		s.logger.Warn("AGNSS chunk ignored: invalid size", "size", size, "payload", len(payload))
		return
	}
	if size > agnss.MaxMessageSize || len(s.agnssMsgs) >= agnss.MaxMessages {
		s.logger.Warn("AGNSS chunk ignored: limits", "size", size, "count", len(s.agnssMsgs))
		return
	}
	s.agnssMsgs = append(s.agnssMsgs, append([]byte(nil), payload[2:2+size]...))
	s.logger.Debug("AGNSS chunk stored", "size", size, "count", len(s.agnssMsgs))
}

func (s *Session) agnssEnd() {
	if !s.agnssActive {
		s.logger.Warn("AGNSS write end ignored: no write in progress")
		return
	}
	s.agnssActive = false
	msgs := s.agnssMsgs
	s.agnssMsgs = nil
	if err := s.cfg.AGNSS.SetQueue(msgs); err != nil {
		s.logger.Warn("AGNSS queue rejected", "messages", len(msgs), "error", err)
		return
	}
	s.logger.Info("AGNSS queue set", "messages", len(msgs))
}

func (s *Session) writeKeys(payload []byte) []byte {
	if s.cfg.FindMy == nil {
		return nil
	}
	if len(payload) != findMyKeysSize {
		s.logger.Warn("key blob has the wrong size", "size", len(payload), "want", findMyKeysSize)
		return nil
	}
	if err := s.cfg.FindMy.Provision(payload); err != nil {
		s.logger.Warn("key provisioning failed", "error", err)
		return nil
	}
	return []byte{0x01}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
