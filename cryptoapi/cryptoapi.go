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
	"crypto/ecdh"
	"fmt"
	"time"

	"github.com/refinio/one-connect/internal/metrics"
)

// cryptoApi is the default CryptoApi: an X25519 key pair plus the logic to
// derive a SymmetricSession for any peer via ECDH.
type cryptoApi struct {
	privateKey *ecdh.PrivateKey
	publicKey  PublicKey
}

// New builds a CryptoApi from a 32-byte X25519 private scalar, as loaded
// from an identity's *_secret.id.json file.
func New(secretKey SecretKey) (CryptoApi, error) {
	priv, err := ecdh.X25519().NewPrivateKey(secretKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: invalid secret key: %w", err)
	}
	var pub PublicKey
	copy(pub[:], priv.PublicKey().Bytes())
	return &cryptoApi{privateKey: priv, publicKey: pub}, nil
}

// PublicKey implements CryptoApi.
func (c *cryptoApi) PublicKey() PublicKey {
	return c.publicKey
}

// EncryptDecryptFor implements CryptoApi.
func (c *cryptoApi) EncryptDecryptFor(remotePublicKey PublicKey) (SymmetricSession, error) {
	start := time.Now()
	session, err := c.encryptDecryptFor(remotePublicKey)
	metrics.CryptoOperationDuration.WithLabelValues("ecdh", "x25519").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("ecdh", "x25519").Inc()
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return session, nil
}

func (c *cryptoApi) encryptDecryptFor(remotePublicKey PublicKey) (SymmetricSession, error) {
	peer, err := ecdh.X25519().NewPublicKey(remotePublicKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: invalid peer public key: %w", err)
	}
	shared, err := c.privateKey.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("cryptoapi: ECDH with peer: %w", err)
	}
	return newSymmetricSession(c.publicKey, remotePublicKey, shared)
}
