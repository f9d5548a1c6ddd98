// exchange.go: One B92 key exchange from raw bits to enrolled keys
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/agilira/quackd"

// ExchangeRequest describes one exchange from Source to Dest.
type ExchangeRequest struct {
	// Host receives the sender's key; defaults to Source.
	Host    string
	Source  string
	Dest    string
	Members []string
	// RawKey is the sender's bit string.
	RawKey string
	// Bases are the receiver's measurement bases. When nil they are drawn
	// uniformly at random.
	Bases []Basis
}

// ExchangeResult carries both reconciled keys, enrolled or not.
type ExchangeResult struct {
	SentKey     string
	ReceivedKey string
	Bases       []Basis
	Sifted      *SiftedKey
	Session     *CascadeSession

	SentEnrolled     bool
	ReceivedEnrolled bool
}

// Agreed reports whether both parties ended with the same key.
func (r *ExchangeResult) Agreed() bool {
	return r.SentKey == r.ReceivedKey
}

// Exchanger wires the backend, the sifter, the reconciler and the keychain
// into a single exchange. It is safe for concurrent use: each Run owns its
// data and only the keychain is shared.
type Exchanger struct {
	cfg        Config
	executor   Executor
	keychain   *KeyChain
	mitigation MitigationFilter
	permuter   Permuter
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	bases      func(n int) []Basis
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithMitigation applies filter to every qubit's counts during sifting.
func WithMitigation(filter MitigationFilter) ExchangerOption {
	return func(e *Exchanger) { e.mitigation = filter }
}

// WithPermuter replaces the cascade permutation source.
func WithPermuter(p Permuter) ExchangerOption {
	return func(e *Exchanger) { e.permuter = p }
}

// WithExchangeLogger sets the logger.
func WithExchangeLogger(logger *zap.Logger) ExchangerOption {
	return func(e *Exchanger) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records every exchange on m.
func WithMetrics(m *Metrics) ExchangerOption {
	return func(e *Exchanger) { e.metrics = m }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) ExchangerOption {
	return func(e *Exchanger) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithBasisChooser overrides how bases are drawn for requests without them.
func WithBasisChooser(choose func(n int) []Basis) ExchangerOption {
	return func(e *Exchanger) {
		if choose != nil {
			e.bases = choose
		}
	}
}

// NewExchanger validates cfg and returns an exchanger enrolling into kc.
func NewExchanger(cfg Config, executor Executor, kc *KeyChain, opts ...ExchangerOption) (*Exchanger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidConfig)
	}
	if kc == nil {
		return nil, fmt.Errorf("%w: keychain is required", ErrInvalidConfig)
	}
	e := &Exchanger{
		cfg:      cfg,
		executor: executor,
		keychain: kc,
		permuter: SeededPermuter{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		bases:    func(n int) []Basis { return RandomBases(n, nil) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// KeyChain returns the ledger the exchanger enrolls into.
func (e *Exchanger) KeyChain() *KeyChain {
	return e.keychain
}

// Config returns the exchanger's configuration.
func (e *Exchanger) Config() Config {
	return e.cfg
}

// Run performs one exchange and advances sink exactly ExchangeCheckpoints
// times on success: circuits prepared, jobs submitted, results acquired,
// sifting complete, reconciliation complete, exchange complete.
//
// The sender key is enrolled under req.Host and the receiver key under every
// member, each only when it reaches the configured minimum length. Both keys
// are returned either way so callers can report a discard.
func (e *Exchanger) Run(ctx context.Context, req ExchangeRequest, sink ProgressSink) (*ExchangeResult, error) {
	if sink == nil {
		sink = NopProgress{}
	}
	host := req.Host
	if host == "" {
		host = req.Source
	}

	ctx, span := e.tracer.Start(ctx, "quackd.Exchange", trace.WithAttributes(
		attribute.String("quackd.source", req.Source),
		attribute.String("quackd.dest", req.Dest),
		attribute.Int("quackd.raw_bits", len(req.RawKey)),
	))
	defer span.End()

	started := time.Now()
	result, err := e.run(ctx, host, req, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.observe(nil, nil, OutcomeFailed)
		e.logger.Warn("exchange failed",
			zap.String("source", req.Source),
			zap.String("dest", req.Dest),
			zap.Error(err))
		return nil, err
	}

	outcome := OutcomeEnrolled
	if !result.SentEnrolled || !result.ReceivedEnrolled {
		outcome = OutcomeDiscarded
	}
	e.metrics.observe(result.Sifted, result.Session, outcome)
	span.SetAttributes(
		attribute.Int("quackd.sifted_bits", result.Sifted.Len()),
		attribute.Float64("quackd.initial_qber", result.Session.ErrorRates[0]),
		attribute.Float64("quackd.residual_error", result.Session.ResidualErrorRate()),
		attribute.String("quackd.outcome", outcome),
	)
	e.logger.Info("exchange complete",
		zap.String("source", req.Source),
		zap.String("dest", req.Dest),
		zap.Int("sifted_bits", result.Sifted.Len()),
		zap.Float64("initial_qber", result.Session.ErrorRates[0]),
		zap.Float64("residual_error", result.Session.ResidualErrorRate()),
		zap.Int("parity_checks", result.Session.TotalParityChecks()),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (e *Exchanger) run(ctx context.Context, host string, req ExchangeRequest, sink ProgressSink) (*ExchangeResult, error) {
	sender, err := ParseBits(req.RawKey)
	if err != nil {
		return nil, err
	}
	bases := req.Bases
	if bases == nil {
		bases = e.bases(len(sender))
	}

	circuits, err := BuildCircuits(sender, bases, e.cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	sink.Log(fmt.Sprintf("Prepared %d circuits for %d bits", len(circuits), len(sender)))
	sink.Advance()

	job, err := e.executor.Execute(ctx, circuits, e.cfg.Shots)
	if err != nil {
		return nil, fmt.Errorf("submit circuits: %w", err)
	}
	sink.Log(fmt.Sprintf("Submitted %d circuits at %d shots", len(circuits), e.cfg.Shots))
	sink.Advance()

	src, err := job.Result(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect results: %w", err)
	}
	sink.Log("Acquired measurement results")
	sink.Advance()

	key, err := e.cfg.Sifter(e.mitigation).Sift(ctx, sender, bases, src)
	if err != nil {
		return nil, err
	}
	sink.Log(fmt.Sprintf("Sifted %d of %d bits (QBER %.3f)", key.Len(), len(sender), key.SampleErrorRate))
	sink.Advance()

	reconciler := &Reconciler{Iterations: e.cfg.CascadeIterations, Permuter: e.permuter}
	session, err := reconciler.Reconcile(ctx, key)
	if err != nil {
		return nil, err
	}
	sink.Log(fmt.Sprintf("Reconciled with %d parity checks", session.TotalParityChecks()))
	sink.Advance()

	result := &ExchangeResult{
		SentKey:     key.SentKey(),
		ReceivedKey: key.CorrectedKey(),
		Bases:       bases,
		Sifted:      key,
		Session:     session,
	}
	if len(result.SentKey) >= e.cfg.KeyMinSize {
		e.keychain.Enroll(host, req.Source, req.Dest, result.SentKey)
		result.SentEnrolled = true
	}
	if len(result.ReceivedKey) >= e.cfg.KeyMinSize {
		for _, m := range req.Members {
			e.keychain.Enroll(m, req.Source, req.Dest, result.ReceivedKey)
		}
		result.ReceivedEnrolled = true
	}
	if result.SentEnrolled {
		sink.Log(fmt.Sprintf("Stored %d-bit key", len(result.SentKey)))
	} else {
		sink.Log(fmt.Sprintf("Discarded %d-bit key (minimum %d)", len(result.SentKey), e.cfg.KeyMinSize))
	}
	sink.Advance()
	return result, nil
}
