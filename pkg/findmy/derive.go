// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package findmy

import (
	"errors"
	"fmt"
	"math/big"

	"filippo.io/nistec"
)

// p224Order is the order of the P-224 base point
var p224Order, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFF16A2E0B8F03E13DD29455C5C2A3D", 16)

// scalar reduces the first 28 bytes of b, big-endian, modulo the order
func scalar(b []byte) *big.Int {
	if len(b) > PrivateKeySize {
		b = b[:PrivateKeySize]
	}
	s := new(big.Int).SetBytes(b)
	return s.Mod(s, p224Order)
}

func scalarNonZero(b []byte) *big.Int {
	s := scalar(b)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	return s
}

// SKAt returns SK_counter, starting from cache when it is valid and not
// ahead of counter. cache is updated to the result.
func SKAt(keys Keys, cache *SKCache, counter uint32) [SymmetricSize]byte {
	var sk [SymmetricSize]byte
	if cache.Valid && cache.Counter <= counter {
		sk = advanceSK(cache.SK, cache.Counter, counter)
	} else {
		sk = advanceSK(keys.SymmetricKey, 0, counter)
	}
	cache.SK = sk
	cache.Counter = counter
	cache.Valid = true
	return sk
}

// PrivateKeyAt returns d_i = d0*u_i + v_i mod q for the slot whose
// symmetric key is sk
func PrivateKeyAt(keys Keys, sk [SymmetricSize]byte) *big.Int {
	diversified := KDF(sk[:], labelDiversify, 72)
	u := scalarNonZero(diversified[:36])
	v := scalarNonZero(diversified[36:])

	d := scalar(keys.PrivateKey[:])
	d.Mul(d, u)
	d.Add(d, v)
	return d.Mod(d, p224Order)
}

// PublicKeyX returns the x coordinate of d*G on P-224
func PublicKeyX(d *big.Int) ([PrivateKeySize]byte, error) {
	var x [PrivateKeySize]byte
	if d.Sign() == 0 {
		return x, errors.New("findmy: zero private key")
	}
	var k [PrivateKeySize]byte
	d.FillBytes(k[:])
	p, err := nistec.NewP224Point().ScalarBaseMult(k[:])
	if err != nil {
		return x, fmt.Errorf("findmy: scalar base mult: %w", err)
	}
	enc := p.Bytes()
	if len(enc) != 1+2*PrivateKeySize {
		return x, errors.New("findmy: derived point at infinity")
	}
	copy(x[:], enc[1:1+PrivateKeySize])
	return x, nil
}

// Derive returns the public key x coordinate for counter
func Derive(keys Keys, cache *SKCache, counter uint32) ([PrivateKeySize]byte, error) {
	sk := SKAt(keys, cache, counter)
	return PublicKeyX(PrivateKeyAt(keys, sk))
}
