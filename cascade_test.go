// cascade_test.go: Test cases for cascade reconciliation and permutations.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyFrom(t *testing.T, sent, corrected string) *SiftedKey {
	t.Helper()
	s := mustBits(t, sent)
	c := mustBits(t, corrected)
	require.Len(t, c, len(s))
	idx := make([]int, len(s))
	for i := range idx {
		idx[i] = i
	}
	return &SiftedKey{
		KnownIndices:    idx,
		SentDigits:      s,
		CorrectedDigits: c,
		SampleErrorRate: mismatchRate(s, c),
	}
}

func TestBlockSize(t *testing.T) {
	tests := []struct {
		name string
		q    float64
		i, n int
		want int
	}{
		{"zero error uses whole key", 0, 0, 30, 30},
		{"first iteration", 0.1, 0, 100, 7},
		{"doubles per iteration", 0.1, 1, 100, 14},
		{"third iteration", 0.1, 2, 100, 29},
		{"capped at key length", 0.1, 4, 100, 100},
		{"clamped to one", 0.9, 0, 100, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlockSize(tt.q, tt.i, tt.n))
		})
	}
}

func TestBlockBounds_Remainder(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, blockBounds(10, 4))
	assert.Equal(t, [][2]int{{0, 5}, {5, 10}}, blockBounds(10, 5))
	assert.Equal(t, [][2]int{{0, 10}}, blockBounds(10, 10))
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}, {2, 3}}, blockBounds(3, 1))
}

func TestBinSplit_Counting(t *testing.T) {
	tests := []struct {
		name      string
		sent      string
		corrected string
		want      int
		fixed     string
	}{
		{"agreeing block", "0110", "0110", 1, "0110"},
		{"error in last bit", "0110", "0111", 5, "0110"},
		{"error in first bit", "0110", "1110", 5, "0110"},
		{"single bit block", "1", "0", 1, "1"},
		{"odd length biases right", "01101", "01111", 7, "01101"},
		{"two errors cancel", "0000", "0110", 1, "0110"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustBits(t, tt.sent)
			c := mustBits(t, tt.corrected)
			got := binSplit(s, c, 0, len(s), 1)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fixed, BitsString(c))
			assert.Equal(t, tt.sent, BitsString(s), "sender bits are never modified")
		})
	}
}

func TestBinSplit_RestoresParity(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.IntN(40)
		s := make([]Bit, n)
		c := make([]Bit, n)
		for i := range s {
			s[i] = Bit(rng.UintN(2))
			c[i] = s[i]
			if rng.Float64() < 0.2 {
				c[i] = c[i].Flip()
			}
		}
		before := mismatchRate(s, c) * float64(n)
		binSplit(s, c, 0, n, 1)
		assert.Equal(t, parity(s), parity(c))
		after := mismatchRate(s, c) * float64(n)
		assert.LessOrEqual(t, after, before)
	}
}

func TestPermutation_RoundTrip(t *testing.T) {
	orig := mustBits(t, "0100010111111101101110010101")
	block := append([]Bit(nil), orig...)
	perm := SeededPermuter{}.Permutation(3, len(block))

	shuffle(perm, block)
	for j, src := range perm {
		assert.Equal(t, orig[src], block[j])
	}
	unshuffle(perm, block)
	assert.Equal(t, orig, block)
}

func TestSeededPermuter_Deterministic(t *testing.T) {
	p := SeededPermuter{}
	assert.Equal(t, p.Permutation(4, 50), p.Permutation(4, 50))
	assert.NotEqual(t, p.Permutation(0, 50), p.Permutation(1, 50))
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, p.Permutation(9, 5))
}

func TestReconcile_ConcreteScenario(t *testing.T) {
	const sender = "010001011111110110111001010101"
	bits := mustBits(t, sender)
	bases := MatchingBases(bits)
	circuits, err := BuildCircuits(bits, bases, DefaultBlockSize)
	require.NoError(t, err)

	src := make(Histograms, len(circuits))
	for i, c := range circuits {
		w := len(c.Bits)
		src[i] = Histogram{strings.Repeat("1", w): 50, strings.Repeat("0", w): 50}
	}

	key, err := NewSifter(100).Sift(context.Background(), bits, bases, src)
	require.NoError(t, err)
	require.Equal(t, len(sender), key.Len())
	assert.Zero(t, key.SampleErrorRate)

	session, err := NewReconciler(DefaultCascadeIterations).Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, sender, key.CorrectedKey())
	assert.Equal(t, key.SentKey(), key.CorrectedKey())
	assert.Equal(t, DefaultCascadeIterations, session.Iteration)
	require.Len(t, session.ParityChecks, DefaultCascadeIterations+1)
	assert.Equal(t, 0, session.ParityChecks[0])
	for i := 1; i < len(session.ParityChecks); i++ {
		assert.Greater(t, session.ParityChecks[i], session.ParityChecks[i-1])
	}
	for _, k := range session.BlockSizes {
		assert.Equal(t, len(sender), k)
	}
}

func TestReconcile_CorrectsSingleError(t *testing.T) {
	key := keyFrom(t, "0110100111010010", "0110100111011010")
	session, err := NewReconciler(1).Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key.SentKey(), key.CorrectedKey())
	assert.Zero(t, session.ResidualErrorRate())
	assert.InDelta(t, 1.0/16, session.ErrorRates[0], 1e-12)
	assert.Equal(t, []int{11}, session.BlockSizes, "floor(0.73 * 16)")
}

func TestReconcile_KeepsIndicesAndSender(t *testing.T) {
	key := keyFrom(t, "01100101110100101100", "01100001110101101100")
	idx := append([]int(nil), key.KnownIndices...)
	sent := key.SentKey()

	_, err := NewReconciler(DefaultCascadeIterations).Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, idx, key.KnownIndices)
	assert.Equal(t, sent, key.SentKey())
}

func TestReconcile_PermuterSeeds(t *testing.T) {
	var seeds []int64
	r := &Reconciler{
		Iterations: 4,
		Permuter: PermuterFunc(func(seed int64, n int) []int {
			seeds = append(seeds, seed)
			return SeededPermuter{}.Permutation(seed, n)
		}),
	}
	_, err := r.Reconcile(context.Background(), keyFrom(t, "0101", "0101"))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3}, seeds)
}

func TestReconcile_ZeroIterations(t *testing.T) {
	key := keyFrom(t, "0101", "0111")
	session, err := NewReconciler(0).Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, session.ParityChecks)
	assert.Equal(t, "0111", key.CorrectedKey())
	assert.InDelta(t, 0.25, session.ResidualErrorRate(), 1e-12)
}

func TestReconcile_Errors(t *testing.T) {
	_, err := NewReconciler(1).Reconcile(context.Background(), &SiftedKey{})
	assert.True(t, errors.Is(err, ErrEmptySift))

	bad := keyFrom(t, "01", "01")
	bad.CorrectedDigits = bad.CorrectedDigits[:1]
	_, err = NewReconciler(1).Reconcile(context.Background(), bad)
	assert.True(t, errors.Is(err, ErrLengthMismatch))

	_, err = NewReconciler(-1).Reconcile(context.Background(), keyFrom(t, "01", "01"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewReconciler(3).Reconcile(ctx, keyFrom(t, "01", "01"))
	assert.ErrorIs(t, err, context.Canceled)
}
