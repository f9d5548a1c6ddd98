// metrics.go: Prometheus instrumentation for exchanges
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exchange outcomes recorded in the exchanges_total counter.
const (
	OutcomeEnrolled  = "enrolled"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Metrics are the collectors updated by an Exchanger.
type Metrics struct {
	Exchanges     *prometheus.CounterVec
	SiftedBits    prometheus.Histogram
	InitialQBER   prometheus.Histogram
	ResidualError prometheus.Histogram
	ParityChecks  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quackd",
			Name:      "exchanges_total",
			Help:      "Key exchanges by outcome.",
		}, []string{"outcome"}),
		SiftedBits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quackd",
			Name:      "sifted_bits",
			Help:      "Positions kept by sifting per exchange.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		}),
		InitialQBER: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quackd",
			Name:      "initial_qber",
			Help:      "Quantum bit error rate before reconciliation.",
			Buckets:   prometheus.LinearBuckets(0, 0.05, 11),
		}),
		ResidualError: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quackd",
			Name:      "residual_error_rate",
			Help:      "Mismatch rate left after the last cascade iteration.",
			Buckets:   prometheus.LinearBuckets(0, 0.05, 11),
		}),
		ParityChecks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quackd",
			Name:      "parity_checks",
			Help:      "Parity comparisons disclosed per exchange.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Exchanges, m.SiftedBits, m.InitialQBER, m.ResidualError, m.ParityChecks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(key *SiftedKey, session *CascadeSession, outcome string) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(outcome).Inc()
	if key == nil || session == nil {
		return
	}
	m.SiftedBits.Observe(float64(key.Len()))
	m.InitialQBER.Observe(session.ErrorRates[0])
	m.ResidualError.Observe(session.ResidualErrorRate())
	m.ParityChecks.Observe(float64(session.TotalParityChecks()))
}
