// root.go: Root command and shared runtime for the quackd CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package cmd implements the quackd command line: simulated key exchanges,
// keychain listings, sealed messages and cascade trials.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/agilira/quackd"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the "quackd" command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "quackd",
		Short: "Simulated B92 quantum key distribution with Cascade reconciliation",
		Long: `quackd runs B92 key exchanges against a local simulator, reconciles the
sifted keys with Cascade and keeps the agreed keys in a keychain ledger.

Configuration is read from the TOML file given with --config and then
overridden by QUACKD_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")

	root.AddCommand(
		newExchangeCmd(opts),
		newKeychainCmd(opts),
		newSendCmd(opts),
		newTrialCmd(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime is what every ledger-backed subcommand needs.
type runtime struct {
	cfg    quackd.Config
	logger *zap.Logger
	kc     *quackd.KeyChain
}

// openRuntime loads configuration, builds the logger and restores the
// keychain. A malformed ledger is fatal; an unreachable one is logged and
// the keychain starts empty.
func openRuntime(configPath string) (*runtime, error) {
	cfg, err := quackd.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := quackd.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}

	kcOpts := []quackd.KeyChainOption{quackd.WithLogger(logger)}
	store, err := quackd.OpenLedgerStore(cfg.Ledger)
	switch {
	case errors.Is(err, quackd.ErrStorageUnavailable):
		logger.Warn("ledger store unavailable; keychain is memory only", zap.Error(err))
	case err != nil:
		return nil, err
	case store != nil:
		kcOpts = append(kcOpts, quackd.WithStore(store))
	}

	kc := quackd.NewKeyChain(kcOpts...)
	if err := kc.Load(); err != nil {
		if errors.Is(err, quackd.ErrMalformedLedger) {
			_ = kc.Close()
			return nil, err
		}
		logger.Warn("ledger could not be read; starting empty", zap.Error(err))
	}
	return &runtime{cfg: cfg, logger: logger, kc: kc}, nil
}

func (rt *runtime) Close() error {
	err := rt.kc.Close()
	_ = rt.logger.Sync()
	return err
}
