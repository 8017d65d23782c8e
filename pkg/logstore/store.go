// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package logstore owns the SD card volume: the daily compressed track
// logs, the size budget, and the file surface served over BLE.
package logstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/logcodec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smallnest/ringbuffer"
)

// Store limits
const (
	CacheSize     = 4096
	DefaultBudget = 1 << 30
	LogExtension  = ".gpz"

	maxTimeJump   = 3600 // seconds
	secondsPerDay = 86400
)

// Errors returned by Store operations
var (
	ErrZeroTimestamp = errors.New("logstore: timestamp is zero")
	ErrTimestampJump = errors.New("logstore: timestamp jump detected")
	ErrFileOpen      = errors.New("logstore: a file is open for reading")
	ErrNoOpenFile    = errors.New("logstore: no file open")
	ErrUSBMode       = errors.New("logstore: volume is lent to USB mass storage")
	ErrInvalidPath   = errors.New("logstore: invalid path")
)

var (
	pointsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logstore_points",
		Help: "track points offered to the log store, by outcome",
	}, []string{"result"})
	flushedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstore_bytes_flushed",
		Help: "bytes written from the cache to log files",
	})
	evictedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstore_files_evicted",
		Help: "log files deleted to stay under the size budget",
	})
)

// Entry is one directory listing result
type Entry struct {
	IsDir bool
	Name  string
	Size  uint32
}

// Store is the SD log store. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	root   string
	budget int64
	logger *slog.Logger
	now    func() time.Time

	enc       *logcodec.Encoder
	cache     *ringbuffer.RingBuffer
	activeDay int64

	lastTS   uint32
	lastMono time.Time

	listPath    string
	listEntries []os.DirEntry
	listPos     int
	listing     bool

	reader *os.File
	usb    bool
}

// Option configures a Store
type Option func(*Store)

// WithBudget overrides the log size budget in bytes
func WithBudget(bytes int64) Option {
	return func(s *Store) { s.budget = bytes }
}

// WithClock overrides the monotonic clock used for jump detection
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open prepares a store rooted at dir, creating it if needed
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create SD root %s: %w", dir, err)
	}
	s := &Store{
		root:      dir,
		budget:    DefaultBudget,
		logger:    slog.Default(),
		now:       time.Now,
		enc:       logcodec.NewEncoder(),
		cache:     ringbuffer.New(CacheSize),
		activeDay: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "logstore")
	return s, nil
}

// Root returns the volume directory
func (s *Store) Root() string {
	return s.root
}

// LogName returns the daily log file name for a Unix timestamp
func LogName(ts uint32) string {
	return time.Unix(int64(ts), 0).UTC().Format("20060102") + LogExtension
}

func dayName(day int64) string {
	return LogName(uint32(day * secondsPerDay))
}

// AppendPoint logs one fix. The record lands in the cache and reaches the
// card when the cache fills or Flush is called.
func (s *Store) AppendPoint(ts uint32, lat, lon float64, alt float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.appendPoint(ts, lat, lon, alt)
	if err != nil {
		pointsMetric.WithLabelValues("rejected").Inc()
		return err
	}
	pointsMetric.WithLabelValues("logged").Inc()
	return nil
}

func (s *Store) appendPoint(ts uint32, lat, lon float64, alt float32) error {
	if s.usb {
		return ErrUSBMode
	}
	if ts == 0 {
		return ErrZeroTimestamp
	}

	mono := s.now()
	if s.lastTS != 0 && !s.lastMono.IsZero() {
		gpsDiff := int64(ts) - int64(s.lastTS)
		monoDiff := int64(mono.Sub(s.lastMono) / time.Second)
		if monoDiff >= 0 && abs64(gpsDiff-monoDiff) > maxTimeJump {
			s.logger.Warn("GPS log skipped: timestamp jump", "gps_diff", gpsDiff, "mono_diff", monoDiff)
			return ErrTimestampJump
		}
	}
	s.lastTS = ts
	s.lastMono = mono

	if err := s.rotate(int64(ts) / secondsPerDay); err != nil {
		return err
	}

	rec := s.enc.Encode(logcodec.Point{Time: ts, Latitude: lat, Longitude: lon, Altitude: alt})
	if s.cache.Free() < len(rec) {
		if err := s.flush(); err != nil {
			return err
		}
	}
	if _, err := s.cache.Write(rec); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	if s.cache.IsFull() {
		return s.flush()
	}
	return nil
}

// rotate switches the active day, flushing the previous day's cache and
// enforcing the size budget before the new session starts
func (s *Store) rotate(day int64) error {
	if day == s.activeDay {
		return nil
	}
	if s.activeDay >= 0 {
		if err := s.flush(); err != nil {
			s.logger.Warn("dropping unflushed records on day change", "file", dayName(s.activeDay), "error", err)
			s.cache.Reset()
		}
	}
	s.evict()
	s.activeDay = day
	s.enc.Reset()
	s.logger.Info("log file rotated", "file", dayName(day))
	return nil
}

// Flush writes and syncs pending bytes. Calling it with nothing pending is a no-op.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usb {
		return ErrUSBMode
	}
	return s.flush()
}

func (s *Store) flush() error {
	n := s.cache.Length()
	if n == 0 || s.activeDay < 0 {
		return nil
	}
	pending := make([]byte, n)
	if _, err := s.cache.Read(pending); err != nil {
		return fmt.Errorf("cache read failed: %w", err)
	}

	if err := s.writeLog(dayName(s.activeDay), pending); err != nil {
		s.cache.Reset()
		_, _ = s.cache.Write(pending)
		return err
	}
	flushedMetric.Add(float64(n))
	return nil
}

func (s *Store) writeLog(name string, data []byte) error {
	path := filepath.Join(s.root, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	return f.Close()
}

// evict deletes the oldest logs until the total is within budget
func (s *Store) evict() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("failed to scan SD root", "error", err)
		return
	}

	type logFile struct {
		name string
		size int64
	}
	var files []logFile
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), LogExtension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{e.Name(), info.Size()})
		total += info.Size()
	}

	// ReadDir sorts by name, so the oldest date-named log comes first
	for len(files) > 0 && total > s.budget {
		oldest := files[0]
		files = files[1:]
		if err := os.Remove(filepath.Join(s.root, oldest.name)); err != nil {
			s.logger.Warn("failed to evict log", "file", oldest.name, "error", err)
			continue
		}
		total -= oldest.size
		evictedMetric.Inc()
		s.logger.Info("evicted log", "file", oldest.name, "size", oldest.size)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
