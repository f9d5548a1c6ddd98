// trials.go: Randomized cascade trials under injected bit-flip noise
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
	"gonum.org/v1/gonum/stat"
)

// TrialConfig describes a batch of independent reconciliation trials.
type TrialConfig struct {
	Trials     int
	Length     int
	Noise      float64 // i.i.d. flip probability per bit
	Iterations int
	Seed       uint64
	// Concurrency bounds parallel trials; 0 means GOMAXPROCS.
	Concurrency int
}

// TrialReport summarises initial and residual mismatch rates.
type TrialReport struct {
	Trials           int
	InitialMean      float64
	InitialStdDev    float64
	ResidualMean     float64
	ResidualStdDev   float64
	ParityChecksMean float64
	// PerIteration is the mean mismatch rate after each iteration, with the
	// initial rate first.
	PerIteration []float64
}

// RunTrials reconciles cfg.Trials random keys of cfg.Length bits whose
// receiver copy has every bit flipped with probability cfg.Noise. Trial t
// uses the PCG stream (cfg.Seed, t), so reports are reproducible.
func RunTrials(ctx context.Context, cfg TrialConfig) (*TrialReport, error) {
	switch {
	case cfg.Trials <= 0:
		return nil, fmt.Errorf("%w: trials must be positive, got %d", ErrInvalidConfig, cfg.Trials)
	case cfg.Length <= 0:
		return nil, fmt.Errorf("%w: length must be positive, got %d", ErrInvalidConfig, cfg.Length)
	case cfg.Noise < 0 || cfg.Noise >= 0.5:
		return nil, fmt.Errorf("%w: noise must be in [0, 0.5), got %v", ErrInvalidConfig, cfg.Noise)
	case cfg.Iterations < 0:
		return nil, fmt.Errorf("%w: iterations must not be negative, got %d", ErrInvalidConfig, cfg.Iterations)
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	sessions := make([]*CascadeSession, cfg.Trials)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for t := 0; t < cfg.Trials; t++ {
		g.Go(func() error {
			key := noisyKey(rand.New(rand.NewPCG(cfg.Seed, uint64(t))), cfg.Length, cfg.Noise) // #nosec G404 -- simulation noise
			session, err := NewReconciler(cfg.Iterations).Reconcile(gctx, key)
			if err != nil {
				return fmt.Errorf("trial %d: %w", t, err)
			}
			sessions[t] = session
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	initial := make([]float64, cfg.Trials)
	residual := make([]float64, cfg.Trials)
	checks := make([]float64, cfg.Trials)
	perIter := make([][]float64, cfg.Iterations+1)
	for i := range perIter {
		perIter[i] = make([]float64, cfg.Trials)
	}
	for t, s := range sessions {
		initial[t] = s.ErrorRates[0]
		residual[t] = s.ResidualErrorRate()
		checks[t] = float64(s.TotalParityChecks())
		for i, rate := range s.ErrorRates {
			perIter[i][t] = rate
		}
	}

	report := &TrialReport{Trials: cfg.Trials}
	report.InitialMean, report.InitialStdDev = stat.MeanStdDev(initial, nil)
	report.ResidualMean, report.ResidualStdDev = stat.MeanStdDev(residual, nil)
	report.ParityChecksMean = stat.Mean(checks, nil)
	report.PerIteration = make([]float64, len(perIter))
	for i, rates := range perIter {
		report.PerIteration[i] = stat.Mean(rates, nil)
	}
	return report, nil
}

// noisyKey builds a sifted key of n random bits whose corrected copy has each
// bit flipped with probability p.
func noisyKey(rng *rand.Rand, n int, p float64) *SiftedKey {
	key := &SiftedKey{
		KnownIndices:    make([]int, n),
		SentDigits:      make([]Bit, n),
		CorrectedDigits: make([]Bit, n),
	}
	for i := 0; i < n; i++ {
		key.KnownIndices[i] = i
		key.SentDigits[i] = Bit(rng.UintN(2))
		key.CorrectedDigits[i] = key.SentDigits[i]
		if rng.Float64() < p {
			key.CorrectedDigits[i] = key.CorrectedDigits[i].Flip()
		}
	}
	key.SampleErrorRate = mismatchRate(key.SentDigits, key.CorrectedDigits)
	return key
}
