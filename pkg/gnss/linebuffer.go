// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package gnss

// MaxLineLength bounds one NMEA sentence including the leading '$'
const MaxLineLength = 96

// LineBuffer assembles NMEA sentences from a byte stream. A sentence starts
// at '$' and ends at '\n'; a trailing '\r' is stripped. Lines longer than
// MaxLineLength are discarded.
type LineBuffer struct {
	buf        [MaxLineLength]byte
	n          int
	inSentence bool
}

// Reset drops any partial line
func (l *LineBuffer) Reset() {
	l.n = 0
	l.inSentence = false
}

// Push adds one byte and returns a completed line, if any
func (l *LineBuffer) Push(b byte) (string, bool) {
	if b == '$' {
		l.buf[0] = b
		l.n = 1
		l.inSentence = true
		return "", false
	}
	if !l.inSentence {
		return "", false
	}

	if b == '\n' {
		n := l.n
		if n > 0 && l.buf[n-1] == '\r' {
			n--
		}
		l.Reset()
		return string(l.buf[:n]), true
	}

	if l.n == len(l.buf) {
		l.Reset()
		return "", false
	}
	l.buf[l.n] = b
	l.n++
	return "", false
}
