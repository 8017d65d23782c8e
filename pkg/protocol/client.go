// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/meridian/pkg/logstore"
	"github.com/Thermoquad/meridian/pkg/system"
)

// Client issues commands to a device over a byte stream. Calls are
// serialized; each waits for its response.
type Client struct {
	mu sync.Mutex
	rw io.ReadWriter
}

// NewClient creates a client on rw, typically a serial port or a
// websocket bridged to the BLE session
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// Do sends one command and returns the response payload
func (c *Client) Do(cmd uint8, payload []byte) ([]byte, error) {
	frame, err := EncodeCommand(cmd, payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.rw.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", CommandName(cmd), err)
	}
	var hdr [LengthSize]byte
	if _, err := io.ReadFull(c.rw, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", CommandName(cmd), err)
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n > MaxResponsePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, n)
	}
	resp := make([]byte, n)
	if _, err := io.ReadFull(c.rw, resp); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", CommandName(cmd), err)
	}
	return resp, nil
}

func (c *Client) doPath(cmd uint8, path string) ([]byte, error) {
	p, err := PathPayload(path)
	if err != nil {
		return nil, err
	}
	return c.Do(cmd, p)
}

// ListDir returns every entry of the directory at path
func (c *Client) ListDir(path string) ([]logstore.Entry, error) {
	var entries []logstore.Entry
	for {
		resp, err := c.doPath(CmdListDir, path)
		if err != nil {
			return entries, err
		}
		if len(resp) == 0 {
			return entries, fmt.Errorf("%w: list %s", ErrEmptyResponse, path)
		}
		if resp[0] == ListDone {
			return entries, nil
		}
		e, err := parseEntry(resp)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}

func parseEntry(resp []byte) (logstore.Entry, error) {
	if len(resp) < 3 || resp[0] != ListEntry {
		return logstore.Entry{}, fmt.Errorf("%w: list entry % x", ErrMalformed, resp)
	}
	e := logstore.Entry{IsDir: resp[1] != 0}
	n := int(resp[2])
	rest := resp[3:]
	if len(rest) < n {
		return logstore.Entry{}, fmt.Errorf("%w: name truncated", ErrMalformed)
	}
	e.Name = string(rest[:n])
	rest = rest[n:]
	if !e.IsDir {
		if len(rest) < 4 {
			return logstore.Entry{}, fmt.Errorf("%w: size missing", ErrMalformed)
		}
		e.Size = binary.LittleEndian.Uint32(rest)
	}
	return e, nil
}

// Open opens path on the device and returns its size
func (c *Client) Open(path string) (uint32, error) {
	resp, err := c.doPath(CmdOpenFile, path)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("%w: open %s", ErrEmptyResponse, path)
	}
	return binary.LittleEndian.Uint32(resp), nil
}

// ReadChunk reads up to count bytes at offset from the open file
func (c *Client) ReadChunk(offset uint32, count uint16) ([]byte, error) {
	p := binary.LittleEndian.AppendUint32(nil, offset)
	p = binary.LittleEndian.AppendUint16(p, count)
	resp, err := c.Do(CmdReadChunk, p)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: read chunk", ErrMalformed)
	}
	n := int(binary.LittleEndian.Uint16(resp))
	if len(resp)-2 < n {
		return nil, fmt.Errorf("%w: chunk truncated", ErrMalformed)
	}
	return resp[2 : 2+n], nil
}

// Close closes the open file
func (c *Client) Close() error {
	_, err := c.Do(CmdCloseFile, nil)
	return err
}

// Delete removes path. The device does not report the outcome.
func (c *Client) Delete(path string) error {
	_, err := c.doPath(CmdDeleteFile, path)
	return err
}

// Download copies path to w and returns the byte count. progress, if
// set, is called after every chunk.
func (c *Client) Download(path string, w io.Writer, progress func(done, total uint32)) (uint32, error) {
	size, err := c.Open(path)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	var off uint32
	for off < size {
		chunk, err := c.ReadChunk(off, MaxReadChunk)
		if err != nil {
			return off, err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := w.Write(chunk); err != nil {
			return off, err
		}
		off += uint32(len(chunk))
		if progress != nil {
			progress(off, size)
		}
	}
	return off, nil
}

// SystemInfo fetches the status record
func (c *Client) SystemInfo() (system.Info, error) {
	resp, err := c.Do(CmdGetSystemInfo, nil)
	if err != nil {
		return system.Info{}, err
	}
	var info system.Info
	if err := info.UnmarshalBinary(resp); err != nil {
		return system.Info{}, err
	}
	return info, nil
}

// UploadAGNSS stages msgs and hands them to the receiver pipeline
func (c *Client) UploadAGNSS(msgs [][]byte) error {
	if _, err := c.Do(CmdStartAGNSSWrite, nil); err != nil {
		return err
	}
	for i, m := range msgs {
		p := binary.LittleEndian.AppendUint16(nil, uint16(len(m)))
		p = append(p, m...)
		if _, err := c.Do(CmdWriteAGNSSChunk, p); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	_, err := c.Do(CmdEndAGNSSWrite, nil)
	return err
}

// Wakeup raises the one-shot GPS wakeup
func (c *Client) Wakeup() error {
	_, err := c.Do(CmdGPSWakeup, nil)
	return err
}

// KeepAlive keeps the receiver on for minutes; zero cancels
func (c *Client) KeepAlive(minutes uint16) error {
	_, err := c.Do(CmdGPSKeepAlive, binary.LittleEndian.AppendUint16(nil, minutes))
	return err
}

// WriteFindMyKeys provisions a 68-byte key blob
func (c *Client) WriteFindMyKeys(blob []byte) error {
	resp, err := c.Do(CmdWriteFindMyKeys, blob)
	if err != nil {
		return err
	}
	if len(resp) != 1 || resp[0] != 0x01 {
		return fmt.Errorf("%w: write keys", ErrEmptyResponse)
	}
	return nil
}

// ReadFindMyKeys returns the stored key blob, or nil if none
func (c *Client) ReadFindMyKeys() ([]byte, error) {
	return c.Do(CmdReadFindMyKeys, nil)
}

// FindMyStatus reports whether the Find My engine is enabled
func (c *Client) FindMyStatus() (bool, error) {
	resp, err := c.Do(CmdGetFindMyStatus, nil)
	if err != nil {
		return false, err
	}
	if len(resp) < 1 {
		return false, fmt.Errorf("%w: findmy status", ErrEmptyResponse)
	}
	return resp[0] != 0, nil
}
