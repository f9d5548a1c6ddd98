// permutation.go: Seeded permutations for cascade iterations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"math/rand"
)

// Permuter produces the permutation used by one cascade iteration. The same
// seed and length must always yield the same permutation, since sender and
// receiver permute independently and must agree.
type Permuter interface {
	Permutation(seed int64, n int) []int
}

// PermuterFunc adapts a function to Permuter.
type PermuterFunc func(seed int64, n int) []int

// Permutation calls f.
func (f PermuterFunc) Permutation(seed int64, n int) []int {
	return f(seed, n)
}

// SeededPermuter derives permutations from a private math/rand source per
// call, so no shared generator state is touched.
type SeededPermuter struct{}

// Permutation returns a permutation of [0, n) determined by seed.
func (SeededPermuter) Permutation(seed int64, n int) []int {
	r := rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducibility is required, not secrecy
	return r.Perm(n)
}

// shuffle reorders block in place so that block'[j] = block[perm[j]].
func shuffle(perm []int, block []Bit) {
	tmp := make([]Bit, len(block))
	for j, src := range perm {
		tmp[j] = block[src]
	}
	copy(block, tmp)
}

// unshuffle is the exact inverse of shuffle for the same perm.
func unshuffle(perm []int, block []Bit) {
	tmp := make([]Bit, len(block))
	for i, dst := range perm {
		tmp[dst] = block[i]
	}
	copy(block, tmp)
}
