// errors.go: Error codes and sentinels shared by sifting, cascade and the keychain
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	goerrors "github.com/agilira/go-errors"
)

// Error codes used by quackd.
const (
	ErrCodeLengthMismatch     = "LENGTH_MISMATCH"
	ErrCodeEmptySift          = "EMPTY_SIFT"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeInvalidBit         = "INVALID_BIT"
	ErrCodeInvalidBasis       = "INVALID_BASIS"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
	ErrCodeMalformedLedger    = "MALFORMED_LEDGER"
	ErrCodeHistogram          = "HISTOGRAM"
	ErrCodeMitigation         = "MITIGATION"
	ErrCodeEmptyKey           = "EMPTY_KEY"
	ErrCodeDecryption         = "DECRYPTION"
)

// Sentinels. Wrap with fmt.Errorf("%w") and test with errors.Is.
var (
	// ErrLengthMismatch is returned when the sender string and the receiver
	// bases do not have the same length. No external call is made.
	ErrLengthMismatch = goerrors.New(ErrCodeLengthMismatch, "sender string and receiver bases differ in length")

	// ErrEmptySift is returned when no position survived sifting.
	ErrEmptySift = goerrors.New(ErrCodeEmptySift, "no conclusive positions after sifting")

	// ErrStorageUnavailable marks a ledger persistence failure. The keychain
	// logs and swallows it; stores return it to their direct callers.
	ErrStorageUnavailable = goerrors.New(ErrCodeStorageUnavailable, "ledger storage unavailable")

	ErrInvalidBit      = goerrors.New(ErrCodeInvalidBit, "bit must be '0' or '1'")
	ErrInvalidBasis    = goerrors.New(ErrCodeInvalidBasis, "unknown measurement basis")
	ErrInvalidConfig   = goerrors.New(ErrCodeInvalidConfig, "invalid configuration")
	ErrMalformedLedger = goerrors.New(ErrCodeMalformedLedger, "malformed ledger record")
	ErrHistogram       = goerrors.New(ErrCodeHistogram, "histogram retrieval failed")
	ErrMitigation      = goerrors.New(ErrCodeMitigation, "measurement error mitigation failed")
	ErrEmptyKey        = goerrors.New(ErrCodeEmptyKey, "key cannot be empty")
	ErrDecryption      = goerrors.New(ErrCodeDecryption, "message authentication failed")
)
