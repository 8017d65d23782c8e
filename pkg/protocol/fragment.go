// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package protocol

// Notification sizing
const (
	DefaultATTMTU     = 23
	MaxFragment       = 244
	attHeaderOverhead = 3
)

// FragmentSize returns the notification payload size for an ATT MTU
func FragmentSize(mtu int) int {
	n := mtu - attHeaderOverhead
	if n > MaxFragment {
		n = MaxFragment
	}
	if n <= 0 {
		n = DefaultATTMTU - attHeaderOverhead
	}
	return n
}

// Fragments splits a framed response into notification-sized chunks
func Fragments(resp []byte, mtu int) [][]byte {
	size := FragmentSize(mtu)
	chunks := make([][]byte, 0, (len(resp)+size-1)/size)
	for len(resp) > 0 {
		n := min(size, len(resp))
		chunks = append(chunks, resp[:n])
		resp = resp[n:]
	}
	return chunks
}

// Send pushes resp through notify in order. The first failure abandons
// the rest of the response and is returned.
func Send(resp []byte, mtu int, notify func([]byte) error) error {
	for _, chunk := range Fragments(resp, mtu) {
		if err := notify(chunk); err != nil {
			return err
		}
	}
	return nil
}
