// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package secp160r1

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func hexInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		t.Fatalf("bad hex %q", s)
	}
	return v
}

func coord(p [FieldSize]byte) string {
	return hex.EncodeToString(p[:])
}

// ============================================================
// Field Tests
// ============================================================

func TestFieldInverse(t *testing.T) {
	for _, s := range []string{"01", "02", "7fffffff", "4A96B5688EF573284664698968C38BB913CBFC82"} {
		b, _ := hex.DecodeString(pad(s))
		a := feFromBytes(b)
		if got := feMul(a, feInv(a)); got != (fe{1}) {
			t.Errorf("%s * inv = %x, want 1", s, got)
		}
	}
}

func TestFieldSubWraps(t *testing.T) {
	one := fe{1}
	two := fe{2}
	got := feSub(one, two)
	if got != (fe{0xFFFFFFFF7FFFFFFE, 0xFFFFFFFFFFFFFFFF, 0xFFFFFFFF}) {
		t.Errorf("1 - 2 = %x, want p-1", got.bytes())
	}
	if r := feAdd(got, one); !r.isZero() {
		t.Errorf("(p-1) + 1 = %x, want 0", r.bytes())
	}
}

func pad(s string) string {
	for len(s) < 2*FieldSize {
		s = "0" + s
	}
	return s
}

// ============================================================
// Curve Tests
// ============================================================

func TestGeneratorOnCurve(t *testing.T) {
	if !OnCurve(Generator()) {
		t.Fatal("generator is not on the curve")
	}
	bad := Generator()
	bad.Y[FieldSize-1] ^= 1
	if OnCurve(bad) {
		t.Error("perturbed point reported on the curve")
	}
}

func TestScalarBaseMult(t *testing.T) {
	tests := []struct {
		name string
		k    string
		x, y string
	}{
		{"1G", "01", "4a96b5688ef573284664698968c38bb913cbfc82", "23a628553168947d59dcc912042351377ac5fb32"},
		{"2G", "02", "02f997f33c5ed04c55d3edf8675d3e92e8f46686", "f083a323482993e9440e817e21cfb7737df8797b"},
		{"3G", "03", "7b76ff541ef363f2df13de1650bd48daa958bc59", "c915ca790d8c8877b55be0079d12854ffe9f6f5a"},
		{"7G", "07", "7a7f99d56472f619577c4e8c9b3a35e961472188", "8955c17a4aa7b3ca673c6d55ee00fae62552e356"},
		{"pattern", "aa55aa55aa55aa55aa55", "4a186ecc7ad21b80faeedd30e2c8b8840bcd0f04", "398321ca04d2c106acae698477661f8fe54f312a"},
		{"n-1", "0100000000000000000001F4C8F927AED3CA752256", "4a96b5688ef573284664698968c38bb913cbfc82", "dc59d7aace976b82a62336edfbdcaec8053a04cd"},
		{"beacon scalar", "be50f14181ac561f804d26f205925d34f70c793a", "8b768b8ce64ceb741b9ae3ef75241e675cfe984b", "8abbb46a2ca5aaabf5d71dce5ad1858e99123e0b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ScalarBaseMult(hexInt(t, tt.k))
			if p.Infinity {
				t.Fatal("unexpected point at infinity")
			}
			if coord(p.X) != tt.x {
				t.Errorf("x = %s, want %s", coord(p.X), tt.x)
			}
			if coord(p.Y) != tt.y {
				t.Errorf("y = %s, want %s", coord(p.Y), tt.y)
			}
			if !OnCurve(p) {
				t.Error("result is not on the curve")
			}
		})
	}
}

func TestScalarBaseMultIdentity(t *testing.T) {
	if p := ScalarBaseMult(new(big.Int)); !p.Infinity {
		t.Error("0*G should be infinity")
	}
	if p := ScalarBaseMult(new(big.Int).Set(N)); !p.Infinity {
		t.Error("n*G should be infinity")
	}
}

func TestScalarMultComposes(t *testing.T) {
	// 3*(7G) == 7*(3G) == 21G
	a := ScalarMult(big.NewInt(3), ScalarBaseMult(big.NewInt(7)))
	b := ScalarMult(big.NewInt(7), ScalarBaseMult(big.NewInt(3)))
	c := ScalarBaseMult(big.NewInt(21))
	if a != c || b != c {
		t.Errorf("scalar multiplication does not compose: %x %x %x", a.X, b.X, c.X)
	}
}

func TestReduce(t *testing.T) {
	nb := N.Bytes()
	if r := Reduce(nb); r.Sign() != 0 {
		t.Errorf("Reduce(n) = %s, want 0", r)
	}
	one := append([]byte{}, nb...)
	one[len(one)-1]++
	if r := Reduce(one); r.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Reduce(n+1) = %s, want 1", r)
	}
}
