// sift.go: B92 sifting of per-block measurement histograms
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

const (
	// DefaultBlockSize is the number of qubits measured per circuit.
	DefaultBlockSize = 5
	// DefaultShots is the number of shots per circuit.
	DefaultShots = 1024
	// DefaultThreshold is the fraction of shots that must read 1 for a
	// position to count as conclusive. Conclusive positions read 1 in about
	// half of the shots.
	DefaultThreshold = 0.3
)

// Histogram maps a measured bitstring (most significant qubit first) to
// its shot count.
type Histogram map[string]int

// HistogramSource returns the joint histogram of one measurement block.
// Implementations may block; callers own any timeout.
type HistogramSource interface {
	Histogram(blockIndex int) (Histogram, error)
}

// HistogramFunc adapts a function to HistogramSource.
type HistogramFunc func(blockIndex int) (Histogram, error)

// Histogram calls f.
func (f HistogramFunc) Histogram(blockIndex int) (Histogram, error) {
	return f(blockIndex)
}

// SiftedKey holds the conclusive positions of one exchange. It is owned by a
// single reconciliation and CorrectedDigits is modified in place.
type SiftedKey struct {
	KnownIndices    []int
	SentDigits      []Bit
	CorrectedDigits []Bit
	// SampleErrorRate is the QBER before any correction. It may be 0.
	SampleErrorRate float64
}

// Len returns the number of sifted positions.
func (k *SiftedKey) Len() int {
	return len(k.KnownIndices)
}

// SentKey renders the sender's sifted bits.
func (k *SiftedKey) SentKey() string {
	return BitsString(k.SentDigits)
}

// CorrectedKey renders the receiver's current bits.
func (k *SiftedKey) CorrectedKey() string {
	return BitsString(k.CorrectedDigits)
}

// Sifter turns measurement histograms into a SiftedKey.
type Sifter struct {
	BlockSize  int
	Shots      int
	Threshold  float64
	Mitigation MitigationFilter // optional
}

// NewSifter returns a sifter with the default block size and threshold.
func NewSifter(shots int) *Sifter {
	return &Sifter{
		BlockSize: DefaultBlockSize,
		Shots:     shots,
		Threshold: DefaultThreshold,
	}
}

// Circuit is one measurement block: the sender's prepared bits and the
// receiver's bases for the same positions.
type Circuit struct {
	Offset int
	Bits   []Bit
	Bases  []Basis
}

// BuildCircuits splits the exchange into blocks of blockSize positions; the
// last block may be shorter.
func BuildCircuits(sender []Bit, bases []Basis, blockSize int) ([]Circuit, error) {
	if len(sender) != len(bases) {
		return nil, fmt.Errorf("%w: %d bits, %d bases", ErrLengthMismatch, len(sender), len(bases))
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidConfig, blockSize)
	}
	circuits := make([]Circuit, 0, (len(sender)+blockSize-1)/blockSize)
	for off := 0; off < len(sender); off += blockSize {
		end := min(off+blockSize, len(sender))
		circuits = append(circuits, Circuit{
			Offset: off,
			Bits:   sender[off:end],
			Bases:  bases[off:end],
		})
	}
	return circuits, nil
}

// Sift classifies every position and returns the conclusive ones.
//
// Fails with ErrLengthMismatch before any histogram is requested, and with
// ErrEmptySift when no position is conclusive.
func (s *Sifter) Sift(ctx context.Context, sender []Bit, bases []Basis, src HistogramSource) (*SiftedKey, error) {
	circuits, err := BuildCircuits(sender, bases, s.BlockSize)
	if err != nil {
		return nil, err
	}

	threshold := s.Threshold * float64(s.Shots)
	key := &SiftedKey{}

	for blockIndex, c := range circuits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hist, err := src.Histogram(blockIndex)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeHistogram, fmt.Sprintf("block %d", blockIndex))
			return nil, fmt.Errorf("%w: %w", ErrHistogram, richErr)
		}

		for r := range c.Bits {
			counts, err := marginal(hist, len(c.Bits), r)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", blockIndex, err)
			}
			if s.Mitigation != nil {
				counts, err = s.mitigate(r, counts)
				if err != nil {
					return nil, fmt.Errorf("block %d qubit %d: %w", blockIndex, r, err)
				}
			}
			if counts["1"] < threshold {
				continue
			}
			key.KnownIndices = append(key.KnownIndices, c.Offset+r)
			key.SentDigits = append(key.SentDigits, c.Bits[r])
			key.CorrectedDigits = append(key.CorrectedDigits, c.Bases[r].InferredBit())
		}
	}

	if key.Len() == 0 {
		return nil, ErrEmptySift
	}
	key.SampleErrorRate = mismatchRate(key.SentDigits, key.CorrectedDigits)
	return key, nil
}

// marginal sums the joint histogram onto qubit r. Bitstrings are most
// significant qubit first, so qubit r is character width-1-r.
func marginal(hist Histogram, width, r int) (map[string]float64, error) {
	counts := map[string]float64{"0": 0, "1": 0}
	for bits, n := range hist {
		if len(bits) != width {
			return nil, fmt.Errorf("%w: bitstring %q has %d qubits, want %d", ErrHistogram, bits, len(bits), width)
		}
		switch bits[width-1-r] {
		case '0':
			counts["0"] += float64(n)
		case '1':
			counts["1"] += float64(n)
		default:
			return nil, fmt.Errorf("%w: bitstring %q", ErrInvalidBit, bits)
		}
	}
	return counts, nil
}

func (s *Sifter) mitigate(qubit int, counts map[string]float64) (map[string]float64, error) {
	out, err := s.Mitigation.Apply(qubit, counts)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMitigation, "filter rejected counts")
		return nil, fmt.Errorf("%w: %w", ErrMitigation, richErr)
	}
	fixed := map[string]float64{"0": 0, "1": 0}
	for _, k := range []string{"0", "1"} {
		if v, ok := out[k]; ok && v > 0 {
			fixed[k] = v
		}
	}
	return fixed, nil
}
