// trials_test.go: Statistical test cases for cascade under random noise.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrials_ReducesErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}
	report, err := RunTrials(context.Background(), TrialConfig{
		Trials:     100,
		Length:     1000,
		Noise:      0.05,
		Iterations: DefaultCascadeIterations,
		Seed:       2025,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, report.Trials)
	assert.InDelta(t, 0.05, report.InitialMean, 0.01)
	assert.Less(t, report.ResidualMean, report.InitialMean)
	assert.Less(t, report.ResidualMean, 0.01)
	assert.Positive(t, report.ParityChecksMean)
	require.Len(t, report.PerIteration, DefaultCascadeIterations+1)
	assert.InDelta(t, report.InitialMean, report.PerIteration[0], 1e-12)
	assert.Less(t, report.PerIteration[1], report.PerIteration[0])
}

func TestRunTrials_Reproducible(t *testing.T) {
	cfg := TrialConfig{Trials: 10, Length: 200, Noise: 0.1, Iterations: 3, Seed: 9}
	a, err := RunTrials(context.Background(), cfg)
	require.NoError(t, err)
	cfg.Concurrency = 1
	b, err := RunTrials(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunTrials_NoNoise(t *testing.T) {
	report, err := RunTrials(context.Background(), TrialConfig{Trials: 4, Length: 64, Noise: 0, Iterations: 2, Seed: 1})
	require.NoError(t, err)
	assert.Zero(t, report.InitialMean)
	assert.Zero(t, report.ResidualMean)
	assert.InDelta(t, 2, report.ParityChecksMean, 1e-12, "one whole-key check per iteration")
}

func TestRunTrials_InvalidConfig(t *testing.T) {
	for _, cfg := range []TrialConfig{
		{Trials: 0, Length: 10},
		{Trials: 1, Length: 0},
		{Trials: 1, Length: 10, Noise: 0.5},
		{Trials: 1, Length: 10, Noise: -0.1},
		{Trials: 1, Length: 10, Iterations: -1},
	} {
		_, err := RunTrials(context.Background(), cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v", cfg)
	}
}

func TestNoisyKey(t *testing.T) {
	key := noisyKey(rand.New(rand.NewPCG(3, 3)), 5000, 0.2)
	assert.Equal(t, 5000, key.Len())
	assert.InDelta(t, 0.2, key.SampleErrorRate, 0.03)
	assert.InDelta(t, key.SampleErrorRate, mismatchRate(key.SentDigits, key.CorrectedDigits), 1e-12)
}
