// simulator.go: Local B92 circuit simulator standing in for a quantum backend
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Executor runs measurement circuits on a quantum backend.
type Executor interface {
	Execute(ctx context.Context, circuits []Circuit, shots int) (Job, error)
}

// Job is a submitted batch of circuits. Result blocks until the histograms
// are available.
type Job interface {
	Result(ctx context.Context) (HistogramSource, error)
}

// Histograms is an in-memory HistogramSource indexed by block.
type Histograms []Histogram

// Histogram returns the histogram of block blockIndex.
func (h Histograms) Histogram(blockIndex int) (Histogram, error) {
	if blockIndex < 0 || blockIndex >= len(h) {
		return nil, fmt.Errorf("%w: no block %d (have %d)", ErrHistogram, blockIndex, len(h))
	}
	return h[blockIndex], nil
}

// Simulator samples B92 circuits locally. Bit 0 prepares |0>, bit 1
// prepares |+>; a Rectilinear basis measures directly and a Diagonal basis
// applies a Hadamard first. Every readout is flipped with probability
// ReadoutError.
//
// Each circuit draws from its own PCG stream keyed by (Seed, circuit index),
// so results do not depend on scheduling.
type Simulator struct {
	Seed         uint64
	ReadoutError float64
	// Concurrency bounds the number of circuits sampled at once; 0 means
	// GOMAXPROCS.
	Concurrency int
}

// NewSimulator returns a noiseless simulator.
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{Seed: seed}
}

// Execute validates and queues circuits. Sampling happens in Result.
func (s *Simulator) Execute(_ context.Context, circuits []Circuit, shots int) (Job, error) {
	if shots <= 0 {
		return nil, fmt.Errorf("%w: shots must be positive, got %d", ErrInvalidConfig, shots)
	}
	if s.ReadoutError < 0 || s.ReadoutError > 1 {
		return nil, fmt.Errorf("%w: readout error %v outside [0, 1]", ErrInvalidConfig, s.ReadoutError)
	}
	for i, c := range circuits {
		if len(c.Bits) != len(c.Bases) {
			return nil, fmt.Errorf("%w: circuit %d", ErrLengthMismatch, i)
		}
	}
	queued := make([]Circuit, len(circuits))
	copy(queued, circuits)
	return &simJob{sim: *s, circuits: queued, shots: shots}, nil
}

type simJob struct {
	sim      Simulator
	circuits []Circuit
	shots    int
}

func (j *simJob) Result(ctx context.Context) (HistogramSource, error) {
	limit := j.sim.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	hists := make(Histograms, len(j.circuits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range j.circuits {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hists[i] = j.sim.sample(uint64(i), c, j.shots)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hists, nil
}

// oneProbability is the chance of reading 1 for a noiseless B92 qubit.
func oneProbability(bit Bit, basis Basis) float64 {
	switch {
	case bit == Zero && basis == Rectilinear:
		return 0 // |0> in Z
	case bit == One && basis == Diagonal:
		return 0 // H|+> = |0>
	default:
		return 0.5
	}
}

func (s *Simulator) sample(stream uint64, c Circuit, shots int) Histogram {
	rng := rand.New(rand.NewPCG(s.Seed, stream)) // #nosec G404 -- simulation noise
	width := len(c.Bits)

	p := make([]float64, width)
	for r := range c.Bits {
		p1 := oneProbability(c.Bits[r], c.Bases[r])
		p[r] = p1*(1-s.ReadoutError) + (1-p1)*s.ReadoutError
	}

	hist := make(Histogram)
	buf := make([]byte, width)
	for shot := 0; shot < shots; shot++ {
		for r := range p {
			if rng.Float64() < p[r] {
				buf[width-1-r] = '1'
			} else {
				buf[width-1-r] = '0'
			}
		}
		hist[string(buf)]++
	}
	return hist
}

// Calibrate runs readout calibration for qubits: each qubit is prepared in
// |0> and in |1> for shots shots.
func (s *Simulator) Calibrate(ctx context.Context, qubits, shots int) ([]CalibrationCounts, error) {
	if shots <= 0 {
		return nil, fmt.Errorf("%w: shots must be positive, got %d", ErrInvalidConfig, shots)
	}
	cal := make([]CalibrationCounts, qubits)
	for q := range cal {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(s.Seed, 1<<32|uint64(q))) // #nosec G404 -- simulation noise
		flips0, flips1 := 0, 0
		for shot := 0; shot < shots; shot++ {
			if rng.Float64() < s.ReadoutError {
				flips0++
			}
			if rng.Float64() < s.ReadoutError {
				flips1++
			}
		}
		cal[q] = CalibrationCounts{
			Prepared0: map[string]int{"0": shots - flips0, "1": flips0},
			Prepared1: map[string]int{"0": flips1, "1": shots - flips1},
		}
	}
	return cal, nil
}
