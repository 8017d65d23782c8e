// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logstore

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// resolve maps a protocol path ("/", "20250101.gpz", "/sub/x") onto the
// volume. Paths cannot climb out of the root.
func (s *Store) resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return filepath.Join(s.root, clean), nil
}

// ListDirNext returns the next entry of the directory at path. done is
// true when the listing is exhausted. Listing a different path restarts
// the cursor; after done the next call restarts the same path.
func (s *Store) ListDirNext(path string) (entry Entry, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return Entry{}, false, ErrUSBMode
	}

	if !s.listing || path != s.listPath {
		dir, err := s.resolve(path)
		if err != nil {
			return Entry{}, false, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.listing = false
			return Entry{}, false, fmt.Errorf("failed to list %s: %w", path, err)
		}
		s.listPath = path
		s.listEntries = entries
		s.listPos = 0
		s.listing = true
	}

	for s.listPos < len(s.listEntries) {
		e := s.listEntries[s.listPos]
		s.listPos++
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		entry = Entry{IsDir: e.IsDir(), Name: e.Name()}
		if !e.IsDir() {
			info, err := e.Info()
			if err != nil {
				continue
			}
			entry.Size = clampSize(info.Size())
		}
		return entry, false, nil
	}

	s.listing = false
	s.listEntries = nil
	return Entry{}, true, nil
}

// OpenFile opens path for reading, replacing any open handle, and
// returns its size
func (s *Store) OpenFile(path string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return 0, ErrUSBMode
	}

	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	s.closeReader()

	// pending records of today's log should be visible to the reader
	if s.activeDay >= 0 && full == filepath.Join(s.root, dayName(s.activeDay)) {
		if err := s.flush(); err != nil {
			s.logger.Warn("flush before open failed", "error", err)
		}
	}

	f, err := os.Open(full)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return 0, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}
	s.reader = f
	return clampSize(info.Size()), nil
}

// ReadFile reads up to len(buf) bytes at offset from the open file. A
// short count signals end of file.
func (s *Store) ReadFile(offset uint32, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return 0, ErrNoOpenFile
	}
	n, err := s.reader.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// CloseFile closes the open read handle, if any
func (s *Store) CloseFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeReader()
}

func (s *Store) closeReader() {
	if s.reader == nil {
		return
	}
	if err := s.reader.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
	s.reader = nil
}

// DeleteFile removes path. It is refused while a file is open for
// reading. Deleting the active log discards its cached records and starts
// a new codec session.
func (s *Store) DeleteFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return ErrUSBMode
	}
	if s.reader != nil {
		return ErrFileOpen
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if full == filepath.Clean(s.root) {
		return ErrInvalidPath
	}
	if s.activeDay >= 0 && full == filepath.Join(s.root, dayName(s.activeDay)) {
		s.cache.Reset()
		s.enc.Reset()
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	s.logger.Info("file deleted", "path", path)
	return nil
}

// EnterUSBMode flushes and releases everything so the volume can be
// handed to a mass-storage host. Later operations fail with ErrUSBMode.
func (s *Store) EnterUSBMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return nil
	}
	err := s.flush()
	if err != nil {
		s.logger.Warn("flush before USB mode failed", "error", err)
	}
	s.closeReader()
	s.listing = false
	s.listEntries = nil
	s.usb = true
	s.logger.Info("volume released for USB mode")
	return err
}

// ExitUSBMode takes the volume back. The next point starts a fresh
// session because the host may have changed any file.
func (s *Store) ExitUSBMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.usb {
		return nil
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("volume not available: %w", err)
	}
	s.usb = false
	s.activeDay = -1
	s.cache.Reset()
	s.enc.Reset()
	s.logger.Info("volume reclaimed from USB mode")
	return nil
}

func clampSize(n int64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
