// trial.go: The trial subcommand
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/agilira/quackd"
	"github.com/spf13/cobra"
)

func newTrialCmd(root *rootOptions) *cobra.Command {
	tc := quackd.TrialConfig{}
	c := &cobra.Command{
		Use:   "trial",
		Short: "Measure cascade on random keys with injected noise",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := quackd.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			if !c.Flags().Changed("iterations") {
				tc.Iterations = cfg.CascadeIterations
			}
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			report, err := quackd.RunTrials(ctx, tc)
			if err != nil {
				return err
			}
			printReport(c.OutOrStdout(), tc, report)
			return nil
		},
	}
	f := c.Flags()
	f.IntVar(&tc.Trials, "trials", 100, "Number of independent trials")
	f.IntVar(&tc.Length, "length", 1000, "Key length in bits")
	f.Float64Var(&tc.Noise, "noise", 0.05, "Bit flip probability")
	f.IntVar(&tc.Iterations, "iterations", quackd.DefaultCascadeIterations, "Cascade iterations (default: from config)")
	f.Uint64Var(&tc.Seed, "seed", 1, "Noise seed")
	f.IntVar(&tc.Concurrency, "concurrency", 0, "Parallel trials (default: GOMAXPROCS)")
	return c
}

func printReport(out io.Writer, tc quackd.TrialConfig, r *quackd.TrialReport) {
	fmt.Fprintf(out, "%d trials, %d bits, noise %.3f, %d iterations\n", r.Trials, tc.Length, tc.Noise, tc.Iterations)
	fmt.Fprintf(out, "initial error:  %.5f ± %.5f\n", r.InitialMean, r.InitialStdDev)
	fmt.Fprintf(out, "residual error: %.5f ± %.5f\n", r.ResidualMean, r.ResidualStdDev)
	fmt.Fprintf(out, "parity checks:  %.1f\n", r.ParityChecksMean)
	for i, rate := range r.PerIteration {
		if i == 0 {
			continue
		}
		fmt.Fprintf(out, "  after iteration %d: %.5f\n", i, rate)
	}
}
