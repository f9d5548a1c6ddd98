// exchange_test.go: Test cases for the exchange orchestrator.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const scenarioKey = "010001011111110110111001010101"

// idealExecutor answers every circuit with noiseless histograms.
type idealExecutor struct {
	mu    sync.Mutex
	calls int
	fail  error
}

type histogramJob struct {
	src HistogramSource
	err error
}

func (j histogramJob) Result(context.Context) (HistogramSource, error) {
	return j.src, j.err
}

func (e *idealExecutor) Execute(_ context.Context, circuits []Circuit, shots int) (Job, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	return histogramJob{src: idealHistograms(circuits, shots)}, nil
}

// countingSink records progress calls.
type countingSink struct {
	mu       sync.Mutex
	advances int
	lines    []string
}

func (s *countingSink) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
}

func (s *countingSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, msg)
}

func matchingRequest(t *testing.T) ExchangeRequest {
	return ExchangeRequest{
		Source:  "alice",
		Dest:    "team",
		Members: []string{"bob", "carol"},
		RawKey:  scenarioKey,
		Bases:   MatchingBases(mustBits(t, scenarioKey)),
	}
}

func TestExchanger_RunEnrollsBothSides(t *testing.T) {
	kc := NewKeyChain()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	ex, err := NewExchanger(DefaultConfig(), &idealExecutor{}, kc,
		WithMetrics(metrics),
		WithTracer(noop.NewTracerProvider().Tracer("test")))
	require.NoError(t, err)
	assert.Same(t, kc, ex.KeyChain())
	assert.Equal(t, DefaultConfig(), ex.Config())

	sink := &countingSink{}
	result, err := ex.Run(context.Background(), matchingRequest(t), sink)
	require.NoError(t, err)

	assert.Equal(t, ExchangeCheckpoints, sink.advances)
	assert.NotEmpty(t, sink.lines)
	assert.Equal(t, scenarioKey, result.SentKey)
	assert.True(t, result.Agreed())
	assert.True(t, result.SentEnrolled)
	assert.True(t, result.ReceivedEnrolled)
	assert.Equal(t, len(scenarioKey), result.Sifted.Len())

	for _, host := range []string{"alice", "bob", "carol"} {
		entry, ok := kc.Query(host, "alice", "team")
		require.True(t, ok, host)
		assert.Equal(t, scenarioKey, entry.Key)
		assert.True(t, kc.Validate(Digest(entry.Key), "alice", "team").Match, host)
	}
	_, ok := kc.Query("team", "alice", "team")
	assert.False(t, ok, "only members receive the key")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Exchanges.WithLabelValues(OutcomeEnrolled)))
}

func TestExchanger_HostOverride(t *testing.T) {
	kc := NewKeyChain()
	ex, err := NewExchanger(DefaultConfig(), &idealExecutor{}, kc)
	require.NoError(t, err)

	req := matchingRequest(t)
	req.Host = "alice-laptop"
	_, err = ex.Run(context.Background(), req, nil)
	require.NoError(t, err)

	_, ok := kc.Query("alice-laptop", "alice", "team")
	assert.True(t, ok)
	_, ok = kc.Query("alice", "alice", "team")
	assert.False(t, ok)
}

func TestExchanger_DiscardsShortKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyMinSize = 31
	kc := NewKeyChain()
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	ex, err := NewExchanger(cfg, &idealExecutor{}, kc, WithMetrics(metrics))
	require.NoError(t, err)

	sink := &countingSink{}
	result, err := ex.Run(context.Background(), matchingRequest(t), sink)
	require.NoError(t, err)

	assert.Equal(t, ExchangeCheckpoints, sink.advances)
	assert.Equal(t, scenarioKey, result.SentKey, "keys are reported even when discarded")
	assert.Equal(t, scenarioKey, result.ReceivedKey)
	assert.False(t, result.SentEnrolled)
	assert.False(t, result.ReceivedEnrolled)
	assert.Empty(t, kc.Hosts(), "ledger untouched")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Exchanges.WithLabelValues(OutcomeDiscarded)))
}

func TestExchanger_RandomBases(t *testing.T) {
	var asked []int
	fixed := func(n int) []Basis {
		asked = append(asked, n)
		return MatchingBases(mustBits(t, scenarioKey))[:n]
	}
	ex, err := NewExchanger(DefaultConfig(), &idealExecutor{}, NewKeyChain(), WithBasisChooser(fixed))
	require.NoError(t, err)

	req := matchingRequest(t)
	req.Bases = nil
	result, err := ex.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{len(scenarioKey)}, asked)
	assert.Len(t, result.Bases, len(scenarioKey))
}

func TestExchanger_Failures(t *testing.T) {
	exec := &idealExecutor{}
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	kc := NewKeyChain()
	ex, err := NewExchanger(DefaultConfig(), exec, kc, WithMetrics(metrics))
	require.NoError(t, err)

	sink := &countingSink{}
	req := matchingRequest(t)
	req.Bases = req.Bases[:10]
	_, err = ex.Run(context.Background(), req, sink)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
	assert.Zero(t, exec.calls, "no backend call on a length mismatch")
	assert.Zero(t, sink.advances)

	req = matchingRequest(t)
	req.RawKey = "01201"
	_, err = ex.Run(context.Background(), req, nil)
	assert.True(t, errors.Is(err, ErrInvalidBit))

	exec.fail = errors.New("queue full")
	_, err = ex.Run(context.Background(), matchingRequest(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Exchanges.WithLabelValues(OutcomeFailed)))
	assert.Empty(t, kc.Hosts())
}

func TestExchanger_EmptySift(t *testing.T) {
	// Every position measured in the basis that can never be conclusive.
	bits := mustBits(t, scenarioKey)
	bases := MatchingBases(bits)
	for i := range bases {
		bases[i] = 1 - bases[i]
	}
	ex, err := NewExchanger(DefaultConfig(), &idealExecutor{}, NewKeyChain())
	require.NoError(t, err)

	req := matchingRequest(t)
	req.Bases = bases
	_, err = ex.Run(context.Background(), req, nil)
	assert.True(t, errors.Is(err, ErrEmptySift))
}

func TestNewExchanger_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shots = 0
	_, err := NewExchanger(cfg, &idealExecutor{}, NewKeyChain())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewExchanger(DefaultConfig(), nil, NewKeyChain())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewExchanger(DefaultConfig(), &idealExecutor{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestExchanger_ConcurrentSessionsShareLedger(t *testing.T) {
	cfg := DefaultConfig()
	kc := NewKeyChain(WithStore(&memStore{}))
	ex, err := NewExchanger(cfg, NewSimulator(5), kc)
	require.NoError(t, err)

	const sessions = 8
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < sessions; i++ {
		raw := RawKeyFromPassphrase(fmt.Sprintf("secret-%d", i), cfg.KeyInitSize)
		bases := MatchingBases(mustBits(t, raw))
		g.Go(func() error {
			_, err := ex.Run(ctx, ExchangeRequest{
				Source:  "alice",
				Dest:    fmt.Sprintf("peer-%d", i),
				Members: []string{fmt.Sprintf("peer-%d", i)},
				RawKey:  raw,
				Bases:   bases,
			}, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	view, ok := kc.LocalView("alice")
	require.True(t, ok)
	assert.Len(t, view, sessions)
	for p, e := range view {
		peer, ok := kc.Query(p.Dest, p.Source, p.Dest)
		require.True(t, ok)
		assert.Equal(t, e.Key, peer.Key)
	}
}

func TestExchanger_WithMitigation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulator.ReadoutError = 0.05
	sim := cfg.NewSimulator()
	cal, err := sim.Calibrate(context.Background(), cfg.BlockSize, cfg.Shots)
	require.NoError(t, err)
	filter, err := NewCalibrationFilter(cal)
	require.NoError(t, err)

	kc := NewKeyChain()
	ex, err := NewExchanger(cfg, sim, kc, WithMitigation(filter))
	require.NoError(t, err)

	result, err := ex.Run(context.Background(), matchingRequest(t), nil)
	require.NoError(t, err)
	assert.Positive(t, result.Sifted.Len())
	assert.Equal(t, result.Sifted.Len(), len(result.SentKey))
}
