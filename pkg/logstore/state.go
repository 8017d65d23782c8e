// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrShortState is returned when a state file is smaller than expected
var ErrShortState = errors.New("logstore: state file too short")

func stateName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return "", ErrInvalidPath
	}
	return name, nil
}

// ReadState reads exactly size bytes from the head of a key or cache file
// in the volume root
func (s *Store) ReadState(name string, size int) ([]byte, error) {
	name, err := stateName(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return nil, ErrUSBMode
	}

	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortState
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return buf, nil
}

// WriteState replaces a state file. The write goes through a temporary
// file so a crash never leaves a torn key blob.
func (s *Store) WriteState(name string, data []byte) error {
	name, err := stateName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return ErrUSBMode
	}

	path := filepath.Join(s.root, name)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// RemoveState deletes a state file. A missing file is not an error.
func (s *Store) RemoveState(name string) error {
	name, err := stateName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return ErrUSBMode
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
