// digest.go: Key digests and passphrase-derived raw key material
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"encoding/hex"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// DigestPrefixLen is the number of hex characters of a digest ever shown.
const DigestPrefixLen = 6

// Digest returns the SHA3-512 hex digest of key.
//
// Two parties compare digests to confirm they hold the same key without
// revealing it.
func Digest(key string) string {
	sum := sha3.Sum512([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DigestPrefix returns the displayable prefix of a digest.
func DigestPrefix(digest string) string {
	if len(digest) <= DigestPrefixLen {
		return digest
	}
	return digest[:DigestPrefixLen]
}

// RawKeyFromPassphrase turns a passphrase into size bits of raw key material:
// the SHA3-512 digest read as an unsigned integer, written in binary without
// leading zeros and truncated to size bits. size is capped at the digest
// length.
func RawKeyFromPassphrase(passphrase string, size int) string {
	sum := sha3.Sum512([]byte(passphrase))
	bits := new(big.Int).SetBytes(sum[:]).Text(2)
	if size < 0 {
		size = 0
	}
	if size < len(bits) {
		bits = bits[:size]
	}
	return bits
}
