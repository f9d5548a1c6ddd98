// seal.go: Message sealing with a reconciled key using PBKDF2-SHA256 and AES-256-GCM
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
	"golang.org/x/crypto/pbkdf2"
)

// Message key derivation parameters. Both parties must use the same values
// to open each other's messages, so they are fixed.
const (
	SealKeySize    = 32
	SealIterations = 390000
)

var sealSalt = []byte("\xe4(\x7f)FQWM:cOW\x97\x86\xe7\x86")

// DeriveMessageKey stretches a reconciled key into a 32-byte AES-256 key.
func DeriveMessageKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: %w", ErrEmptyKey,
			goerrors.New(ErrCodeEmptyKey, "cannot derive a message key from an empty key"))
	}
	return pbkdf2.Key([]byte(key), sealSalt, SealIterations, SealKeySize, sha256.New), nil
}

// SealMessage encrypts plaintext under a key derived from the reconciled key.
// The result is URL-safe base64 of nonce || ciphertext || tag.
//
// Example:
//
//	token, err := quackd.SealMessage("meet at noon", result.SentKey)
//	if err != nil {
//		log.Fatal(err)
//	}
//	text, err := quackd.OpenMessage(token, result.ReceivedKey)
func SealMessage(plaintext, key string) (string, error) {
	gcm, err := messageAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, "NONCE_GEN", "failed to generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil) // #nosec G407 -- nonce is generated from crypto/rand
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// OpenMessage reverses SealMessage. A wrong key, a truncated token or any
// tampering yields ErrDecryption.
func OpenMessage(token, key string) (string, error) {
	gcm, err := messageAEAD(key)
	if err != nil {
		return "", err
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption,
			goerrors.Wrap(err, ErrCodeDecryption, "token is not valid base64"))
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("%w: %w", ErrDecryption,
			goerrors.New(ErrCodeDecryption, "token too short"))
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption,
			goerrors.Wrap(err, ErrCodeDecryption, "failed to open message"))
	}
	return string(plaintext), nil
}

func messageAEAD(key string) (cipher.AEAD, error) {
	derived, err := DeriveMessageKey(key)
	if err != nil {
		return nil, err
	}
	defer zeroize(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, goerrors.Wrap(err, "CIPHER_INIT", "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, "GCM_INIT", "failed to create GCM")
	}
	return gcm, nil
}

// zeroize wipes b. The AES key schedule keeps its own copy, so the derived
// key can be cleared as soon as the cipher exists.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
