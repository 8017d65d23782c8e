// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package secp160r1

import (
	"encoding/binary"
	"math/bits"
)

// fe is a field element mod p = 2^160 - 2^31 - 1, three little-endian
// limbs, always fully reduced
type fe [3]uint64

var feP = fe{0xFFFFFFFF7FFFFFFF, 0xFFFFFFFFFFFFFFFF, 0xFFFFFFFF}

// wide is a double-width intermediate
type wide [6]uint64

const mask32 = 0xFFFFFFFF

func feFromBytes(b []byte) fe {
	var buf [24]byte
	copy(buf[24-len(b):], b)
	return fe{
		binary.BigEndian.Uint64(buf[16:24]),
		binary.BigEndian.Uint64(buf[8:16]),
		binary.BigEndian.Uint64(buf[0:8]),
	}
}

func (a fe) bytes() [FieldSize]byte {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], a[2])
	binary.BigEndian.PutUint64(buf[8:16], a[1])
	binary.BigEndian.PutUint64(buf[16:24], a[0])
	var out [FieldSize]byte
	copy(out[:], buf[4:])
	return out
}

func (a fe) isZero() bool {
	return a[0]|a[1]|a[2] == 0
}

// geP reports a >= p for a < 2^160
func geP(a fe) bool {
	if a[2] != feP[2] {
		return a[2] > feP[2]
	}
	if a[1] != feP[1] {
		return a[1] > feP[1]
	}
	return a[0] >= feP[0]
}

func subP(a fe) fe {
	var r fe
	var b uint64
	r[0], b = bits.Sub64(a[0], feP[0], 0)
	r[1], b = bits.Sub64(a[1], feP[1], b)
	r[2], _ = bits.Sub64(a[2], feP[2], b)
	return r
}

func feAdd(a, b fe) fe {
	var r fe
	var c uint64
	r[0], c = bits.Add64(a[0], b[0], 0)
	r[1], c = bits.Add64(a[1], b[1], c)
	r[2], _ = bits.Add64(a[2], b[2], c)
	// a, b < 2^160 so the sum fits in 161 bits of r[2]
	if r[2]>>32 != 0 || geP(r) {
		r = subP(r)
	}
	return r
}

func feSub(a, b fe) fe {
	var r fe
	var borrow uint64
	r[0], borrow = bits.Sub64(a[0], b[0], 0)
	r[1], borrow = bits.Sub64(a[1], b[1], borrow)
	r[2], borrow = bits.Sub64(a[2], b[2], borrow)
	if borrow != 0 {
		var c uint64
		r[0], c = bits.Add64(r[0], feP[0], 0)
		r[1], c = bits.Add64(r[1], feP[1], c)
		r[2], _ = bits.Add64(r[2], feP[2], c)
		r[2] &= mask32
	}
	return r
}

func feMul(a, b fe) fe {
	var w wide
	for i := 0; i < 3; i++ {
		var carry uint64
		for j := 0; j < 3; j++ {
			hi, lo := bits.Mul64(a[i], b[j])
			var c uint64
			lo, c = bits.Add64(lo, w[i+j], 0)
			hi += c
			lo, c = bits.Add64(lo, carry, 0)
			hi += c
			w[i+j] = lo
			carry = hi
		}
		w[i+3] += carry
	}
	return reduce(w)
}

func feSquare(a fe) fe {
	return feMul(a, a)
}

// reduce folds w modulo p using 2^160 = 2^31 + 1 (mod p)
func reduce(w wide) fe {
	for w[2]>>32 != 0 || w[3]|w[4]|w[5] != 0 {
		// hi = w >> 160
		hi := wide{
			w[2]>>32 | w[3]<<32,
			w[3]>>32 | w[4]<<32,
			w[4]>>32 | w[5]<<32,
			w[5] >> 32,
		}
		lo := wide{w[0], w[1], w[2] & mask32}
		// hi << 31
		shifted := wide{
			hi[0] << 31,
			hi[1]<<31 | hi[0]>>33,
			hi[2]<<31 | hi[1]>>33,
			hi[3]<<31 | hi[2]>>33,
			hi[3] >> 33,
		}
		w = wideAdd(wideAdd(lo, hi), shifted)
	}
	r := fe{w[0], w[1], w[2]}
	if geP(r) {
		r = subP(r)
	}
	return r
}

func wideAdd(a, b wide) wide {
	var r wide
	var c uint64
	for i := range r {
		r[i], c = bits.Add64(a[i], b[i], c)
	}
	return r
}

// feInv returns a^(p-2)
func feInv(a fe) fe {
	exp := feP
	exp[0] -= 2
	r := fe{1}
	for i := 2; i >= 0; i-- {
		for bit := 63; bit >= 0; bit-- {
			r = feSquare(r)
			if exp[i]>>uint(bit)&1 == 1 {
				r = feMul(r, a)
			}
		}
	}
	return r
}
