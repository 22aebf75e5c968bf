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

package connection

import (
	"time"

	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/internal/metrics"
)

// discriminator bytes prefixed to the plaintext before encryption, so the
// receiving side can tell a binary payload from a string payload once
// decrypted.
const (
	discriminatorBytes  byte = 0x00
	discriminatorString byte = 0x01
)

// FramingPlugin is the framing & encryption plugin: every message event that
// reaches the socket is encrypted with the session's per-direction counter
// nonce, and every binary frame read from the socket is decrypted before it
// continues up the chain. It is always the plugin nearest the socket.
type FramingPlugin struct {
	BasePlugin

	session cryptoapi.SymmetricCryptoApi
}

// NewFramingPlugin wraps an already-derived counter-nonce session. Callers
// obtain session from SymmetricSession.SharedKey during the handshake.
func NewFramingPlugin(session cryptoapi.SymmetricCryptoApi) *FramingPlugin {
	return &FramingPlugin{session: session}
}

// Name implements Plugin.
func (p *FramingPlugin) Name() string { return EncryptionPluginName }

// TransformIncoming decrypts binary frames read off the socket. Opened and
// closed events pass through untouched; text frames should never arrive
// post-handshake and are dropped.
func (p *FramingPlugin) TransformIncoming(evt Event) (Event, bool) {
	if evt.Kind != EventMessage {
		return evt, true
	}
	if evt.IsText {
		return evt, false
	}

	start := time.Now()
	plaintext, err := p.session.Decrypt(evt.Bytes)
	metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DecryptionFailures.Inc()
		metrics.FramesProcessed.WithLabelValues("binary", "failure").Inc()
		if e := p.Emitter(); e != nil {
			e.CloseWithReason(CloseReasonDecryptionFailure)
		}
		return evt, false
	}
	if len(plaintext) == 0 {
		metrics.FramesProcessed.WithLabelValues("binary", "failure").Inc()
		return evt, false
	}

	metrics.FrameSize.Observe(float64(len(plaintext)))
	discriminator, payload := plaintext[0], plaintext[1:]
	switch discriminator {
	case discriminatorString:
		metrics.FramesProcessed.WithLabelValues("text", "success").Inc()
		return TextMessage(string(payload)), true
	default:
		metrics.FramesProcessed.WithLabelValues("binary", "success").Inc()
		// Copy so the plugin above cannot observe mutations to the AEAD's
		// internal buffer if it is ever reused.
		out := make([]byte, len(payload))
		copy(out, payload)
		return BytesMessage(out), true
	}
}

// TransformOutgoing prefixes the discriminator byte and encrypts the frame
// before it reaches the socket; the result always travels as a binary
// WebSocket frame regardless of how the application framed it.
func (p *FramingPlugin) TransformOutgoing(evt Event) (Event, bool) {
	if evt.Kind != EventMessage {
		return evt, true
	}

	discriminator := discriminatorBytes
	payload := evt.Bytes
	if evt.IsText {
		discriminator = discriminatorString
		payload = []byte(evt.Text)
	}

	plaintext := make([]byte, 0, len(payload)+1)
	plaintext = append(plaintext, discriminator)
	plaintext = append(plaintext, payload...)

	start := time.Now()
	ciphertext, err := p.session.Encrypt(plaintext)
	metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FramesProcessed.WithLabelValues("binary", "failure").Inc()
		return evt, false
	}

	metrics.FrameSize.Observe(float64(len(plaintext)))
	metrics.FramesProcessed.WithLabelValues("binary", "success").Inc()
	return BytesMessage(ciphertext), true
}
