// config.go: Configuration loading from TOML files and the environment
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	// DefaultKeyInitSize is the number of raw bits derived from a passphrase.
	DefaultKeyInitSize = 64
	// DefaultKeyMinSize is the shortest reconciled key the keychain accepts.
	DefaultKeyMinSize = 16
)

// Config holds every tunable of an exchange. Fields are read from TOML and
// then overridden by QUACKD_* environment variables.
type Config struct {
	Shots             int     `toml:"shots" env:"QUACKD_SHOTS"`
	BlockSize         int     `toml:"block_size" env:"QUACKD_BLOCK_SIZE"`
	Threshold         float64 `toml:"threshold" env:"QUACKD_THRESHOLD"`
	CascadeIterations int     `toml:"cascade_iterations" env:"QUACKD_CASCADE_ITERATIONS"`
	KeyInitSize       int     `toml:"key_init_size" env:"QUACKD_KEY_INIT_SIZE"`
	KeyMinSize        int     `toml:"key_min_size" env:"QUACKD_KEY_MIN_SIZE"`
	// Mitigation names the measurement-error filter; empty disables it.
	Mitigation string `toml:"mitigation" env:"QUACKD_MITIGATION"`

	Ledger    LedgerConfig    `toml:"ledger"`
	Logger    LoggerConfig    `toml:"logger"`
	Simulator SimulatorConfig `toml:"simulator"`
}

// LedgerConfig selects the keychain persistence backend.
type LedgerConfig struct {
	Backend string `toml:"backend" env:"QUACKD_LEDGER_BACKEND"`
	Path    string `toml:"path" env:"QUACKD_LEDGER_PATH"`
}

// SimulatorConfig configures the local backend.
type SimulatorConfig struct {
	Seed         uint64  `toml:"seed" env:"QUACKD_SIM_SEED"`
	ReadoutError float64 `toml:"readout_error" env:"QUACKD_SIM_READOUT_ERROR"`
	Concurrency  int     `toml:"concurrency" env:"QUACKD_SIM_CONCURRENCY"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Shots:             DefaultShots,
		BlockSize:         DefaultBlockSize,
		Threshold:         DefaultThreshold,
		CascadeIterations: DefaultCascadeIterations,
		KeyInitSize:       DefaultKeyInitSize,
		KeyMinSize:        DefaultKeyMinSize,
		Ledger:            LedgerConfig{Backend: BackendNone},
		Logger:            LoggerConfig{Environment: "production"},
	}
}

// LoadConfig starts from DefaultConfig, applies the TOML file at path (if
// path is not empty), then the environment, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.Shots <= 0:
		return fmt.Errorf("%w: shots must be positive, got %d", ErrInvalidConfig, c.Shots)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: block_size must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	case c.Threshold <= 0 || c.Threshold > 1:
		return fmt.Errorf("%w: threshold must be in (0, 1], got %v", ErrInvalidConfig, c.Threshold)
	case c.CascadeIterations < 0:
		return fmt.Errorf("%w: cascade_iterations must not be negative, got %d", ErrInvalidConfig, c.CascadeIterations)
	case c.KeyInitSize <= 0:
		return fmt.Errorf("%w: key_init_size must be positive, got %d", ErrInvalidConfig, c.KeyInitSize)
	case c.KeyMinSize < 0:
		return fmt.Errorf("%w: key_min_size must not be negative, got %d", ErrInvalidConfig, c.KeyMinSize)
	case c.Simulator.ReadoutError < 0 || c.Simulator.ReadoutError >= 0.5:
		return fmt.Errorf("%w: simulator.readout_error must be in [0, 0.5), got %v", ErrInvalidConfig, c.Simulator.ReadoutError)
	}
	return nil
}

// Sifter builds a sifter from the configuration.
func (c Config) Sifter(filter MitigationFilter) *Sifter {
	return &Sifter{
		BlockSize:  c.BlockSize,
		Shots:      c.Shots,
		Threshold:  c.Threshold,
		Mitigation: filter,
	}
}

// NewSimulator builds the local backend from the configuration.
func (c Config) NewSimulator() *Simulator {
	return &Simulator{
		Seed:         c.Simulator.Seed,
		ReadoutError: c.Simulator.ReadoutError,
		Concurrency:  c.Simulator.Concurrency,
	}
}
