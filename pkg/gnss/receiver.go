// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package gnss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Thermoquad/meridian/pkg/casic"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const readChunkSize = 128

var sentencesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nmea_sentences",
	Help: "NMEA sentences seen on the GNSS UART, by outcome",
}, []string{"result"})

// Receiver is the GNSS RX path. It owns the CASIC decoder, the NMEA line
// buffer and accumulator, and the speed average. Only Run (or Feed) touches
// them; other goroutines interact through RequestReset and the shared
// System and Events.
type Receiver struct {
	sys    *system.System
	events *casic.Events
	logger *slog.Logger
	now    func() time.Time

	decoder *casic.Decoder
	line    LineBuffer
	acc     Accumulator
	avg     SpeedAverage

	resetRequested atomic.Bool
}

// NewReceiver creates a receiver publishing into sys and events
func NewReceiver(sys *system.System, events *casic.Events, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		sys:     sys,
		events:  events,
		logger:  logger.With("component", "gnss"),
		now:     time.Now,
		decoder: casic.NewDecoder(),
	}
}

// RequestReset clears pending CASIC events now and asks the RX path to
// reset its parsers before the next chunk
func (r *Receiver) RequestReset() {
	r.events.Drain()
	r.resetRequested.Store(true)
}

func (r *Receiver) reset() {
	r.decoder.Reset()
	r.line.Reset()
	r.acc.Reset()
	r.avg.Reset()
}

// Feed processes one chunk read from the receiver
func (r *Receiver) Feed(chunk []byte) {
	if r.resetRequested.Swap(false) {
		r.reset()
	}

	now := r.now()
	for _, b := range chunk {
		if f, err := r.decoder.DecodeByteAt(b, now); err != nil {
			r.logger.Debug("dropped CASIC frame", "error", err)
		} else if f != nil {
			r.logger.Debug("CASIC frame", "frame", casic.FormatMessageName(f.Class(), f.ID()), "len", len(f.Payload()))
		}

		if !r.decoder.Idle() {
			continue
		}
		if line, ok := r.line.Push(b); ok {
			r.handleLine(line)
		}
	}

	r.events.Collect(r.decoder)
}

func (r *Receiver) handleLine(line string) {
	if !utf8.ValidString(line) {
		sentencesMetric.WithLabelValues("rejected").Inc()
		return
	}
	s, err := nmea.Parse(line)
	if err != nil {
		sentencesMetric.WithLabelValues("rejected").Inc()
		r.logger.Debug("unparsed NMEA sentence", "line", line, "error", err)
		return
	}
	sentencesMetric.WithLabelValues("parsed").Inc()

	r.acc.Apply(s)
	r.sys.Update(func(info *system.Info) {
		r.acc.UpdateInfo(info, &r.avg)
	})
}

// Run reads from port until ctx is cancelled or the port fails. Ports
// should be configured with a read timeout so cancellation is noticed.
func (r *Receiver) Run(ctx context.Context, port io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := port.Read(buf)
		if n > 0 {
			r.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("gnss read failed: %w", err)
		}
	}
}
