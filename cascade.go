// cascade.go: Cascade information reconciliation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"fmt"
	"math"
)

const (
	// DefaultCascadeIterations is the number of permute/split rounds.
	DefaultCascadeIterations = 5

	// blockSizeFactor sets the first-round block size to 0.73/QBER, which
	// keeps the expected number of errors per block below one.
	blockSizeFactor = 0.73
)

// CascadeSession records what each cascade iteration did.
type CascadeSession struct {
	// Iteration is the number of completed iterations.
	Iteration int
	// BlockSizes holds the block size used by each iteration.
	BlockSizes []int
	// ParityChecks is cumulative; ParityChecks[0] is 0 and ParityChecks[i+1]
	// includes the checks of iteration i.
	ParityChecks []int
	// ErrorRates starts with the initial QBER and gains one entry per
	// iteration.
	ErrorRates []float64
}

// TotalParityChecks returns the cumulative number of parity comparisons.
func (s *CascadeSession) TotalParityChecks() int {
	return s.ParityChecks[len(s.ParityChecks)-1]
}

// ResidualErrorRate returns the mismatch rate after the last iteration.
func (s *CascadeSession) ResidualErrorRate() float64 {
	return s.ErrorRates[len(s.ErrorRates)-1]
}

// Reconciler runs a fixed number of cascade iterations over a SiftedKey.
type Reconciler struct {
	Iterations int
	Permuter   Permuter
}

// NewReconciler returns a reconciler using SeededPermuter.
func NewReconciler(iterations int) *Reconciler {
	return &Reconciler{
		Iterations: iterations,
		Permuter:   SeededPermuter{},
	}
}

// Reconcile corrects key.CorrectedDigits toward key.SentDigits in place.
// There is no convergence check: errors that cancel pairwise inside a block
// can survive every iteration.
func (r *Reconciler) Reconcile(ctx context.Context, key *SiftedKey) (*CascadeSession, error) {
	if key == nil || key.Len() == 0 {
		return nil, ErrEmptySift
	}
	if len(key.SentDigits) != len(key.CorrectedDigits) {
		return nil, fmt.Errorf("%w: %d sent digits, %d corrected digits",
			ErrLengthMismatch, len(key.SentDigits), len(key.CorrectedDigits))
	}
	if r.Iterations < 0 {
		return nil, fmt.Errorf("%w: negative iteration count %d", ErrInvalidConfig, r.Iterations)
	}

	permuter := r.Permuter
	if permuter == nil {
		permuter = SeededPermuter{}
	}

	session := &CascadeSession{
		ParityChecks: []int{0},
		ErrorRates:   []float64{key.SampleErrorRate},
	}
	for i := 0; i < r.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return session, err
		}
		r.iterate(i, key, session, permuter)
	}
	return session, nil
}

func (r *Reconciler) iterate(i int, key *SiftedKey, session *CascadeSession, permuter Permuter) {
	n := key.Len()
	k := BlockSize(key.SampleErrorRate, i, n)
	session.BlockSizes = append(session.BlockSizes, k)

	perm := permuter.Permutation(int64(i), n)
	shuffle(perm, key.SentDigits)
	shuffle(perm, key.CorrectedDigits)

	checks := 0
	for _, b := range blockBounds(n, k) {
		checks += binSplit(key.SentDigits, key.CorrectedDigits, b[0], b[1], 1)
	}
	session.ParityChecks = append(session.ParityChecks, session.TotalParityChecks()+checks)

	unshuffle(perm, key.SentDigits)
	unshuffle(perm, key.CorrectedDigits)

	session.ErrorRates = append(session.ErrorRates, mismatchRate(key.SentDigits, key.CorrectedDigits))
	session.Iteration = i + 1
}

// BlockSize returns the cascade block size for iteration i over n bits with
// initial error rate q: min(floor(0.73/q * 2^i), n), at least 1. A zero
// error rate uses a single block of n bits.
func BlockSize(q float64, i, n int) int {
	if q <= 0 {
		return n
	}
	kf := math.Floor(blockSizeFactor / q * math.Ldexp(1, i))
	if kf >= float64(n) {
		return n
	}
	if kf < 1 {
		return 1
	}
	return int(kf)
}

// blockBounds partitions [0, n) into consecutive [lo, hi) ranges of size k.
// The last range holds the remainder and may be shorter than k.
func blockBounds(n, k int) [][2]int {
	bounds := make([][2]int, 0, (n+k-1)/k)
	for lo := 0; lo < n; lo += k {
		bounds = append(bounds, [2]int{lo, min(lo+k, n)})
	}
	return bounds
}

// binSplit compares the parities of sent[lo:hi] and corrected[lo:hi] and,
// on disagreement, bisects until a single bit is isolated and flipped. The
// right half gets the extra bit when the length is odd. A matching block
// counts as one check; a flipped leaf counts its depth, which includes the
// checks of every ancestor.
func binSplit(sent, corrected []Bit, lo, hi, depth int) int {
	if parity(sent[lo:hi]) == parity(corrected[lo:hi]) {
		return 1
	}
	if hi-lo == 1 {
		corrected[lo] = corrected[lo].Flip()
		return depth
	}
	mid := lo + (hi-lo)/2
	return binSplit(sent, corrected, lo, mid, depth+1) + binSplit(sent, corrected, mid, hi, depth+1)
}
