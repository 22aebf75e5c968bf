// one-connect - ONE Connection Substrate
// Copyright (C) 2025 refinio
//
// This file is part of one-connect.
//
// one-connect is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// one-connect is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with one-connect. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package cryptoapi implements the capability bundle every connection
// plugin is handed: a CryptoApi carries the local instance's identity key
// and derives per-peer symmetric sessions from it, never exposing the
// underlying secret key to callers.
package cryptoapi

import (
	"errors"
	"time"
)

// KeySize is the width of every public/secret key in this package: X25519
// points and scalars are both 32 bytes.
const KeySize = 32

// PublicKey is a 32-byte X25519 public key.
type PublicKey [KeySize]byte

// SecretKey is a 32-byte X25519 private scalar.
type SecretKey [KeySize]byte

// Bytes returns the key as a plain slice.
func (k PublicKey) Bytes() []byte { return k[:] }

// Bytes returns the key as a plain slice.
func (k SecretKey) Bytes() []byte { return k[:] }

var (
	// ErrInvalidKeyLength is returned when a key does not decode to exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("cryptoapi: key must be exactly 32 bytes")
	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("cryptoapi: session closed")
	// ErrCiphertextTooShort is returned when a ciphertext is too short to contain a nonce and tag.
	ErrCiphertextTooShort = errors.New("cryptoapi: ciphertext too short")
	// ErrCounterExhausted is returned when a per-direction nonce counter would wrap.
	ErrCounterExhausted = errors.New("cryptoapi: nonce counter exhausted")
)

// CryptoApi is the capability bundle handed to the connection layer: it
// carries the local instance's identity key and can derive a symmetric
// session for any remote peer identified by their X25519 public key.
type CryptoApi interface {
	// PublicKey returns the local instance's X25519 public key.
	PublicKey() PublicKey

	// EncryptDecryptFor derives a SymmetricSession for communicating with
	// the peer holding remotePublicKey. Calling this twice for the same
	// peer yields two independent sessions (each with its own random-nonce
	// state); callers that need a stable session should cache the result.
	EncryptDecryptFor(remotePublicKey PublicKey) (SymmetricSession, error)
}

// SymmetricSession is the random-nonce AEAD session derived from a shared
// secret: every call picks a fresh random nonce and embeds it in the
// ciphertext, so callers never manage nonce state themselves.
type SymmetricSession interface {
	// EncryptAndEmbedNonce seals plaintext, prepending a fresh random nonce.
	EncryptAndEmbedNonce(plaintext []byte) ([]byte, error)
	// DecryptWithEmbeddedNonce reverses EncryptAndEmbedNonce.
	DecryptWithEmbeddedNonce(ciphertext []byte) ([]byte, error)
	// SharedKey derives the explicit-counter-nonce variant for the same
	// peer, used by the framing plugin (spec's per-direction counter nonce).
	SharedKey(remotePublicKey PublicKey) (SymmetricCryptoApi, error)
	// Close zeroes retained key material and marks the session unusable.
	Close()
}

// SymmetricCryptoApi is the explicit-counter-nonce AEAD variant used by the
// framing plugin: each direction keeps its own monotonically increasing
// 64-bit counter, encoded as a 24-byte big-endian nonce, starting at 0.
type SymmetricCryptoApi interface {
	// Encrypt seals plaintext under the next value of the local send
	// counter, returning ciphertext without an embedded nonce (the counter
	// is reconstructed on the receive side from message order).
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext using the next expected value of the local
	// receive counter.
	Decrypt(ciphertext []byte) ([]byte, error)
	// SendCounter returns the next counter value that will be used to encrypt.
	SendCounter() uint64
	// RecvCounter returns the next counter value expected on decrypt.
	RecvCounter() uint64
}

// sessionStats is embedded by both session flavors to track lifecycle info
// shared with health/metrics reporting.
type sessionStats struct {
	createdAt  time.Time
	lastUsedAt time.Time
	msgCount   int
}

func newSessionStats() sessionStats {
	now := time.Now()
	return sessionStats{createdAt: now, lastUsedAt: now}
}

func (s *sessionStats) touch() {
	s.lastUsedAt = time.Now()
	s.msgCount++
}
