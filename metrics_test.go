// metrics_test.go: Test cases for exchange metrics.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.observe(nil, nil, OutcomeFailed)
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "quackd_exchanges_total")

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	key := keyFrom(t, "0110", "0111")
	session := &CascadeSession{ParityChecks: []int{0, 3, 7}, ErrorRates: []float64{0.25, 0, 0}}
	m.observe(key, session, OutcomeEnrolled)
	m.observe(key, session, OutcomeDiscarded)
	m.observe(nil, nil, OutcomeFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exchanges.WithLabelValues(OutcomeEnrolled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exchanges.WithLabelValues(OutcomeDiscarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exchanges.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ParityChecks))

	families, err := reg.Gather()
	require.NoError(t, err)
	var checks uint64
	var sum float64
	for _, mf := range families {
		if mf.GetName() == "quackd_parity_checks" {
			h := mf.GetMetric()[0].GetHistogram()
			checks, sum = h.GetSampleCount(), h.GetSampleSum()
		}
	}
	assert.Equal(t, uint64(2), checks, "failed exchanges record no session")
	assert.InDelta(t, 14, sum, 1e-9)
}

func TestNewMetrics_Unregistered(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.observe(keyFrom(t, "01", "01"), &CascadeSession{ParityChecks: []int{0}, ErrorRates: []float64{0}}, OutcomeEnrolled)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exchanges.WithLabelValues(OutcomeEnrolled)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observe(nil, nil, OutcomeFailed)
}
