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
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// keyedCryptoApi implements SymmetricCryptoApi: XChaCha20-Poly1305 with an
// explicit, independent counter per direction. The send counter advances on
// every Encrypt call; the receive counter advances on every successful
// Decrypt call. Neither counter is ever reset for the lifetime of the
// connection, matching the framing plugin's one-shot-per-route key install.
type keyedCryptoApi struct {
	mu   sync.Mutex
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	sendCounter uint64
	recvCounter uint64
}

func newKeyedCryptoApi(key []byte) (*keyedCryptoApi, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: create XChaCha20-Poly1305: %w", err)
	}
	return &keyedCryptoApi{aead: aead}, nil
}

// Encrypt implements SymmetricCryptoApi.
func (k *keyedCryptoApi) Encrypt(plaintext []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.sendCounter == ^uint64(0) {
		return nil, ErrCounterExhausted
	}
	nonce := counterNonce(k.sendCounter)
	k.sendCounter++
	return k.aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt implements SymmetricCryptoApi.
func (k *keyedCryptoApi) Decrypt(ciphertext []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.recvCounter == ^uint64(0) {
		return nil, ErrCounterExhausted
	}
	nonce := counterNonce(k.recvCounter)
	plaintext, err := k.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: decrypt at counter %d: %w", k.recvCounter, err)
	}
	k.recvCounter++
	return plaintext, nil
}

// SendCounter implements SymmetricCryptoApi.
func (k *keyedCryptoApi) SendCounter() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sendCounter
}

// RecvCounter implements SymmetricCryptoApi.
func (k *keyedCryptoApi) RecvCounter() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.recvCounter
}
