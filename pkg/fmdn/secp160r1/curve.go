// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package secp160r1 implements scalar multiplication on the SECP160R1
// curve, y^2 = x^3 - 3x + b over p = 2^160 - 2^31 - 1. It is not constant
// time; it only derives public beacon identifiers.
package secp160r1

import (
	"math/big"
)

// FieldSize is the encoded size of a coordinate
const FieldSize = 20

var (
	curveB = feFromBytes(mustBytes("1C97BEFC54BD7A8B65ACF89F81D4D4ADC565FA45"))
	gx     = feFromBytes(mustBytes("4A96B5688EF573284664698968C38BB913CBFC82"))
	gy     = feFromBytes(mustBytes("23A628553168947D59DCC912042351377AC5FB32"))

	// N is the order of the base point
	N, _ = new(big.Int).SetString("0100000000000000000001F4C8F927AED3CA752257", 16)
)

func mustBytes(s string) []byte {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("secp160r1: bad constant " + s)
	}
	return v.Bytes()
}

// Point is an affine point. The zero value with Infinity set is the
// identity.
type Point struct {
	X, Y     [FieldSize]byte
	Infinity bool
}

// Generator returns the base point
func Generator() Point {
	return Point{X: gx.bytes(), Y: gy.bytes()}
}

// OnCurve reports whether p satisfies the curve equation
func OnCurve(pt Point) bool {
	if pt.Infinity {
		return true
	}
	x := feFromBytes(pt.X[:])
	y := feFromBytes(pt.Y[:])
	if geP(x) || geP(y) {
		return false
	}
	lhs := feSquare(y)
	x3 := feMul(feSquare(x), x)
	threeX := feAdd(feAdd(x, x), x)
	rhs := feAdd(feSub(x3, threeX), curveB)
	return lhs == rhs
}

// jacobian is (X/Z^2, Y/Z^3); Z = 0 is the identity
type jacobian struct {
	x, y, z fe
}

func (p jacobian) isInfinity() bool {
	return p.z.isZero()
}

// double uses the a = -3 shortcut for alpha
func double(p jacobian) jacobian {
	if p.isInfinity() || p.y.isZero() {
		return jacobian{}
	}
	delta := feSquare(p.z)
	gamma := feSquare(p.y)
	beta := feMul(p.x, gamma)

	t := feMul(feSub(p.x, delta), feAdd(p.x, delta))
	alpha := feAdd(feAdd(t, t), t)

	beta4 := feAdd(beta, beta)
	beta4 = feAdd(beta4, beta4)
	beta8 := feAdd(beta4, beta4)

	x3 := feSub(feSquare(alpha), beta8)

	yz := feAdd(p.y, p.z)
	z3 := feSub(feSub(feSquare(yz), gamma), delta)

	gamma2 := feSquare(gamma)
	gamma8 := feAdd(gamma2, gamma2)
	gamma8 = feAdd(gamma8, gamma8)
	gamma8 = feAdd(gamma8, gamma8)
	y3 := feSub(feMul(alpha, feSub(beta4, x3)), gamma8)

	return jacobian{x3, y3, z3}
}

// addAffine adds an affine point (x2, y2) to p
func addAffine(p jacobian, x2, y2 fe) jacobian {
	if p.isInfinity() {
		return jacobian{x2, y2, fe{1}}
	}
	z1z1 := feSquare(p.z)
	u2 := feMul(x2, z1z1)
	s2 := feMul(y2, feMul(p.z, z1z1))
	h := feSub(u2, p.x)
	r := feSub(s2, p.y)

	if h.isZero() {
		if r.isZero() {
			return double(p)
		}
		return jacobian{}
	}

	hh := feSquare(h)
	i := feAdd(hh, hh)
	i = feAdd(i, i)
	j := feMul(h, i)
	r = feAdd(r, r)
	v := feMul(p.x, i)

	x3 := feSub(feSub(feSquare(r), j), feAdd(v, v))
	y1j := feMul(p.y, j)
	y3 := feSub(feMul(r, feSub(v, x3)), feAdd(y1j, y1j))
	zh := feAdd(p.z, h)
	z3 := feSub(feSub(feSquare(zh), z1z1), hh)
	return jacobian{x3, y3, z3}
}

func (p jacobian) affine() Point {
	if p.isInfinity() {
		return Point{Infinity: true}
	}
	zinv := feInv(p.z)
	zinv2 := feSquare(zinv)
	x := feMul(p.x, zinv2)
	y := feMul(p.y, feMul(zinv2, zinv))
	return Point{X: x.bytes(), Y: y.bytes()}
}

// ScalarMult returns k*pt by left-to-right double-and-add. k is used as
// given; callers reduce it mod N first when that matters.
func ScalarMult(k *big.Int, pt Point) Point {
	if pt.Infinity || k.Sign() == 0 {
		return Point{Infinity: true}
	}
	x := feFromBytes(pt.X[:])
	y := feFromBytes(pt.Y[:])

	var acc jacobian
	for i := k.BitLen() - 1; i >= 0; i-- {
		acc = double(acc)
		if k.Bit(i) == 1 {
			acc = addAffine(acc, x, y)
		}
	}
	return acc.affine()
}

// ScalarBaseMult returns k*G
func ScalarBaseMult(k *big.Int) Point {
	return ScalarMult(k, Generator())
}

// Reduce interprets b as a big-endian integer and reduces it mod N
func Reduce(b []byte) *big.Int {
	r := new(big.Int).SetBytes(b)
	return r.Mod(r, N)
}
