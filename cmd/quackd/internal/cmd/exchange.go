// exchange.go: The exchange subcommand
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"

	"github.com/agilira/quackd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Mitigation filter names accepted in the configuration.
const (
	mitigationIdentity    = "identity"
	mitigationCalibration = "calibration"
	mitigationSymmetric   = "symmetric"
)

type exchangeOptions struct {
	host       string
	source     string
	dest       string
	members    []string
	passphrase string
	bits       string
	bases      string
	seed       uint64
	metrics    bool
}

func newExchangeCmd(root *rootOptions) *cobra.Command {
	opts := &exchangeOptions{}
	c := &cobra.Command{
		Use:   "exchange",
		Short: "Share a key from source to dest over a simulated B92 channel",
		Long: `Share a key from source to dest over a simulated B92 channel.

The raw key is either given directly with --bits or derived from
--passphrase. The sender key is stored on --host (default: the source) and
the receiver key on every member (default: the destination), each only when
it reaches the configured minimum length.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) (err error) {
			rt, err := openRuntime(root.configPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, rt.Close()) }()

			if c.Flags().Changed("seed") {
				rt.cfg.Simulator.Seed = opts.seed
			}
			return runExchange(c.Context(), c.OutOrStdout(), rt, opts, c.Flags().Changed("seed"))
		},
	}
	f := c.Flags()
	f.StringVar(&opts.host, "host", "", "Party that stores the sender key (default: --source)")
	f.StringVar(&opts.source, "source", "", "Sending party")
	f.StringVar(&opts.dest, "dest", "", "Destination party or group")
	f.StringSliceVar(&opts.members, "members", nil, "Parties that store the receiver key (default: --dest)")
	f.StringVar(&opts.passphrase, "passphrase", "", "Passphrase the raw key is derived from")
	f.StringVar(&opts.bits, "bits", "", "Raw key as a string of 0 and 1")
	f.StringVar(&opts.bases, "bases", "", "Receiver bases as a string of Z and X (default: random)")
	f.Uint64Var(&opts.seed, "seed", 0, "Simulator and basis seed (default: from config)")
	f.BoolVar(&opts.metrics, "metrics", false, "Print exchange metrics when done")
	_ = c.MarkFlagRequired("source")
	_ = c.MarkFlagRequired("dest")
	c.MarkFlagsMutuallyExclusive("passphrase", "bits")
	c.MarkFlagsOneRequired("passphrase", "bits")
	return c
}

func runExchange(ctx context.Context, out io.Writer, rt *runtime, opts *exchangeOptions, seeded bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rawKey := opts.bits
	if rawKey == "" {
		rawKey = quackd.RawKeyFromPassphrase(opts.passphrase, rt.cfg.KeyInitSize)
	}
	var bases []quackd.Basis
	if opts.bases != "" {
		parsed, err := quackd.ParseBases(opts.bases)
		if err != nil {
			return err
		}
		bases = parsed
	}
	members := opts.members
	if len(members) == 0 {
		members = []string{opts.dest}
	}

	reg := prometheus.NewRegistry()
	metrics, err := quackd.NewMetrics(reg)
	if err != nil {
		return err
	}
	sim := rt.cfg.NewSimulator()
	exOpts := []quackd.ExchangerOption{
		quackd.WithExchangeLogger(rt.logger),
		quackd.WithMetrics(metrics),
	}
	if seeded {
		exOpts = append(exOpts, quackd.WithBasisChooser(seededBasisChooser(rt.cfg.Simulator.Seed)))
	}
	filter, err := newMitigation(ctx, rt.cfg, sim)
	if err != nil {
		return err
	}
	if filter != nil {
		exOpts = append(exOpts, quackd.WithMitigation(filter))
	}

	ex, err := quackd.NewExchanger(rt.cfg, sim, rt.kc, exOpts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Sharing key as `%s` (%d bits).\n", rawKey, len(rawKey))
	bar := quackd.NewProgressBar(quackd.ExchangeCheckpoints)
	printed := 0
	bar.OnUpdate = func(s quackd.ProgressState) {
		for ; printed < len(s.Lines); printed++ {
			fmt.Fprintf(out, "%5.1f%% %s\n", s.Percent(), s.Lines[printed])
		}
	}

	result, err := ex.Run(ctx, quackd.ExchangeRequest{
		Host:    opts.host,
		Source:  opts.source,
		Dest:    opts.dest,
		Members: members,
		RawKey:  rawKey,
		Bases:   bases,
	}, bar)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, bar.State().Bar())

	minSize := rt.cfg.KeyMinSize
	if result.SentEnrolled {
		fmt.Fprintf(out, "Stored key `%s` after reconciliation.\n", result.SentKey)
	} else {
		fmt.Fprintf(out, "Shared key `%s` is discarded (minimum length of %d required).\n", result.SentKey, minSize)
	}
	for _, m := range members {
		if result.ReceivedEnrolled {
			fmt.Fprintf(out, "%s received new key `%s` for %s -> %s.\n", m, result.ReceivedKey, opts.source, opts.dest)
		} else {
			fmt.Fprintf(out, "%s received key `%s` for %s -> %s, discarded (minimum length of %d required).\n",
				m, result.ReceivedKey, opts.source, opts.dest, minSize)
		}
	}
	if opts.metrics {
		return printMetrics(out, reg)
	}
	return nil
}

// basisStream is the PCG stream of the first seeded basis draw.
const basisStream = 0xba5e

// seededBasisChooser draws the k-th call's bases from its own PCG stream
// (seed, basisStream+k), so concurrent exchanges never share a generator.
func seededBasisChooser(seed uint64) func(n int) []quackd.Basis {
	var calls atomic.Uint64
	return func(n int) []quackd.Basis {
		stream := basisStream + calls.Add(1) - 1
		rng := rand.New(rand.NewPCG(seed, stream)) // #nosec G404 -- reproducible runs
		return quackd.RandomBases(n, rng)
	}
}

// newMitigation builds the filter named by cfg.Mitigation, or nil when
// mitigation is off.
func newMitigation(ctx context.Context, cfg quackd.Config, sim *quackd.Simulator) (quackd.MitigationFilter, error) {
	if cfg.Mitigation == "" {
		return nil, nil
	}
	manager := quackd.NewMitigationManager(nil)
	if err := manager.Register(mitigationIdentity, quackd.IdentityFilter{}); err != nil {
		return nil, err
	}

	switch cfg.Mitigation {
	case mitigationCalibration:
		cal, err := sim.Calibrate(ctx, cfg.BlockSize, cfg.Shots)
		if err != nil {
			return nil, err
		}
		filter, err := quackd.NewCalibrationFilter(cal)
		if err != nil {
			return nil, err
		}
		if err := manager.Register(mitigationCalibration, filter); err != nil {
			return nil, err
		}
	case mitigationSymmetric:
		filter, err := quackd.NewSymmetricCalibrationFilter(cfg.Simulator.ReadoutError, cfg.BlockSize)
		if err != nil {
			return nil, err
		}
		if err := manager.Register(mitigationSymmetric, filter); err != nil {
			return nil, err
		}
	}
	if err := manager.Use(cfg.Mitigation); err != nil {
		return nil, err
	}
	return manager, nil
}

func printMetrics(out io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				label := ""
				for _, lp := range m.GetLabel() {
					label += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
				}
				fmt.Fprintf(out, "%s%s %g\n", mf.GetName(), label, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(out, "%s_count %d\n%s_sum %g\n",
					mf.GetName(), h.GetSampleCount(), mf.GetName(), h.GetSampleSum())
			}
		}
	}
	return nil
}
