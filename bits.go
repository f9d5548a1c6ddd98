// bits.go: Bit and basis primitives for B92 key material
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Bit is a single key bit, 0 or 1.
type Bit uint8

const (
	Zero Bit = 0
	One  Bit = 1
)

// Flip returns the complementary bit.
func (b Bit) Flip() Bit {
	return b ^ 1
}

// String renders the bit as "0" or "1".
func (b Bit) String() string {
	if b == One {
		return "1"
	}
	return "0"
}

// ParseBits converts a string of '0' and '1' characters into bits.
func ParseBits(s string) ([]Bit, error) {
	bits := make([]Bit, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			bits[i] = Zero
		case '1':
			bits[i] = One
		default:
			return nil, fmt.Errorf("%w: %q at position %d", ErrInvalidBit, s[i], i)
		}
	}
	return bits, nil
}

// BitsString renders bits as a string of '0' and '1'.
func BitsString(bits []Bit) string {
	var sb strings.Builder
	sb.Grow(len(bits))
	for _, b := range bits {
		if b == One {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// parity returns the number of one bits modulo 2.
func parity(bits []Bit) Bit {
	var p Bit
	for _, b := range bits {
		p ^= b
	}
	return p
}

// mismatchRate is the fraction of positions where a and b differ.
// Both slices must have the same length.
func mismatchRate(a, b []Bit) float64 {
	if len(a) == 0 {
		return 0
	}
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return float64(diff) / float64(len(a))
}

// Basis is a receiver measurement orientation.
type Basis uint8

const (
	// Rectilinear measures in the computational (Z) basis.
	Rectilinear Basis = iota
	// Diagonal applies a Hadamard before measuring (X basis).
	Diagonal
)

// String returns the conventional one-letter basis symbol.
func (b Basis) String() string {
	switch b {
	case Rectilinear:
		return "Z"
	case Diagonal:
		return "X"
	default:
		return fmt.Sprintf("Basis(%d)", uint8(b))
	}
}

// InferredBit is the bit a receiver records when a measurement in basis b is
// conclusive.
func (b Basis) InferredBit() Bit {
	if b == Rectilinear {
		return One
	}
	return Zero
}

// ParseBasis accepts "Z"/"X" or "rectilinear"/"diagonal", case-insensitive.
func ParseBasis(s string) (Basis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "z", "rectilinear":
		return Rectilinear, nil
	case "x", "diagonal":
		return Diagonal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidBasis, s)
	}
}

// ParseBases parses a compact basis string such as "ZXXZ".
func ParseBases(s string) ([]Basis, error) {
	bases := make([]Basis, 0, len(s))
	for i, r := range s {
		b, err := ParseBasis(string(r))
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		bases = append(bases, b)
	}
	return bases, nil
}

// BasesString renders bases with their one-letter symbols.
func BasesString(bases []Basis) string {
	var sb strings.Builder
	sb.Grow(len(bases))
	for _, b := range bases {
		sb.WriteString(b.String())
	}
	return sb.String()
}

// RandomBases draws n bases uniformly at random from r. A nil r uses the
// runtime-seeded global source.
func RandomBases(n int, r *rand.Rand) []Basis {
	bases := make([]Basis, n)
	for i := range bases {
		var v uint
		if r == nil {
			v = rand.UintN(2)
		} else {
			v = r.UintN(2)
		}
		bases[i] = Basis(v)
	}
	return bases
}

// MatchingBases returns, for each bit, the basis under which a B92
// measurement can be conclusive: Diagonal for 0, Rectilinear for 1.
func MatchingBases(bits []Bit) []Basis {
	bases := make([]Basis, len(bits))
	for i, b := range bits {
		if b == One {
			bases[i] = Rectilinear
		} else {
			bases[i] = Diagonal
		}
	}
	return bases
}
