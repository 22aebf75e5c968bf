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

package cryptoapi

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/refinio/one-connect/internal/metrics"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// symmetricSession implements SymmetricSession over an ECDH shared secret.
// It derives one XChaCha20-Poly1305 key via HKDF-SHA256 and uses a random
// 24-byte nonce per call, embedding it ahead of the ciphertext so the peer
// never has to track any counter state for this variant.
type symmetricSession struct {
	mu sync.Mutex
	sessionStats

	localPublicKey  PublicKey
	remotePublicKey PublicKey
	sharedSecret    []byte // retained to derive SharedKey on demand
	aead            interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	closed bool
}

func newSymmetricSession(localPublicKey, remotePublicKey PublicKey, sharedSecret []byte) (*symmetricSession, error) {
	key, err := deriveSessionKey(sharedSecret, localPublicKey, remotePublicKey, "embed-nonce")
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: create XChaCha20-Poly1305: %w", err)
	}
	return &symmetricSession{
		sessionStats:    newSessionStats(),
		localPublicKey:  localPublicKey,
		remotePublicKey: remotePublicKey,
		sharedSecret:    sharedSecret,
		aead:            aead,
	}, nil
}

// deriveSessionKey derives a 32-byte AEAD key from the ECDH shared secret,
// salted with both parties' public keys in canonical (sorted) order so
// both peers independently compute the same key regardless of role.
func deriveSessionKey(sharedSecret []byte, a, b PublicKey, info string) ([]byte, error) {
	lo, hi := a.Bytes(), b.Bytes()
	if string(lo) > string(hi) {
		lo, hi = hi, lo
	}
	salt := sha256.New()
	salt.Write(lo)
	salt.Write(hi)

	kdf := hkdf.New(sha256.New, sharedSecret, salt.Sum(nil), []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptoapi: derive session key: %w", err)
	}
	return key, nil
}

// EncryptAndEmbedNonce implements SymmetricSession.
func (s *symmetricSession) EncryptAndEmbedNonce(plaintext []byte) ([]byte, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoapi: generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	s.touch()
	metrics.SessionDuration.WithLabelValues("encrypt").Observe(time.Since(start).Seconds())
	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(out)))
	return out, nil
}

// DecryptWithEmbeddedNonce implements SymmetricSession.
func (s *symmetricSession) DecryptWithEmbeddedNonce(ciphertext []byte) ([]byte, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrCiphertextTooShort
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := ciphertext[chacha20poly1305.NonceSizeX:]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: decrypt: %w", err)
	}
	s.touch()
	metrics.SessionDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds())
	metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(ciphertext)))
	return plaintext, nil
}

// SharedKey implements SymmetricSession, deriving the explicit-counter
// variant keyed the same way but under a distinct HKDF info label so the
// two variants never share key material.
func (s *symmetricSession) SharedKey(remotePublicKey PublicKey) (SymmetricCryptoApi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	key, err := deriveSessionKey(s.sharedSecret, s.localPublicKey, remotePublicKey, "counter-nonce")
	if err != nil {
		return nil, err
	}
	return newKeyedCryptoApi(key)
}

// Close zeroes the retained shared secret and marks the session unusable.
func (s *symmetricSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.sharedSecret {
		s.sharedSecret[i] = 0
	}
	s.closed = true
	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.Inc()
}
