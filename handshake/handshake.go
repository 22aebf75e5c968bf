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

// Package handshake drives the mutual-authentication exchange that installs
// a Connection's encryption plugin: a communication_request/ready exchange,
// shared-key derivation, a bit-inverted challenge/response, and a final
// synchronisation echo. It never retries on the same socket.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/internal/metrics"
)

// DefaultStepTimeout bounds every individual handshake step, per the spec.
const DefaultStepTimeout = 10 * time.Second

// challengeSize is the length, in bytes, of the acceptor's random challenge.
const challengeSize = 32

const (
	commandCommunicationRequest = "communication_request"
	commandCommunicationReady   = "communication_ready"
	commandSynchronisation      = "synchronisation"
)

// Role distinguishes the side that opens the handshake (dialer) from the
// side that answers it (acceptor).
type Role int

const (
	RoleDialer Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleDialer {
		return "dialer"
	}
	return "acceptor"
}

type communicationRequestMessage struct {
	Command         string `json:"command"`
	SourcePublicKey string `json:"sourcePublicKey"`
	TargetPublicKey string `json:"targetPublicKey"`
}

type communicationReadyMessage struct {
	Command string `json:"command"`
}

type synchronisationMessage struct {
	Command string `json:"command"`
	Value   string `json:"value"`
}

// Config configures one handshake attempt over an already-open Connection.
type Config struct {
	Role        Role
	LocalCrypto cryptoapi.CryptoApi

	// RemotePublicKey is the dialer's intended target identity. The
	// acceptor may leave this zero; it learns the actual source identity
	// from the incoming communication_request.
	RemotePublicKey cryptoapi.PublicKey

	// StepTimeout bounds each individual step. Defaults to DefaultStepTimeout.
	StepTimeout time.Duration
}

// Result carries what a successful handshake establishes.
type Result struct {
	RemotePublicKey cryptoapi.PublicKey
}

// Handshake drives exactly one handshake attempt over a Connection. Run must
// be called at most once; a second call always returns an error, reflecting
// the spec's rule that a failed handshake is never retried on the same
// socket.
type Handshake struct {
	conn    *connection.Connection
	promise *connection.PromisePlugin
	cfg     Config

	once sync.Once
	done bool
}

// New builds a Handshake. promise must already be attached to conn as a
// pre-handshake plugin so the dialer/acceptor can synchronously await each
// step's frame.
func New(conn *connection.Connection, promise *connection.PromisePlugin, cfg Config) *Handshake {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return &Handshake{conn: conn, promise: promise, cfg: cfg}
}

// Run executes the handshake. It blocks until the handshake completes,
// fails, or ctx is cancelled.
func (h *Handshake) Run(ctx context.Context) (*Result, error) {
	ran := false
	var result *Result
	var err error
	h.once.Do(func() {
		ran = true
		h.done = true
		result, err = h.run(ctx)
	})
	if !ran {
		return nil, errors.New("handshake: already attempted on this connection")
	}
	return result, err
}

func (h *Handshake) run(ctx context.Context) (*Result, error) {
	metrics.HandshakesInitiated.WithLabelValues(h.cfg.Role.String()).Inc()
	overallStart := time.Now()

	var remote cryptoapi.PublicKey
	var err error
	switch h.cfg.Role {
	case RoleDialer:
		remote, err = h.runDialer(ctx)
	case RoleAcceptor:
		remote, err = h.runAcceptor(ctx)
	default:
		err = fmt.Errorf("handshake: unknown role %d", h.cfg.Role)
	}

	if err != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues(classifyFailure(err)).Inc()
		h.conn.Close(closeReasonFor(err))
		return nil, err
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("total").Observe(time.Since(overallStart).Seconds())
	return &Result{RemotePublicKey: remote}, nil
}

func (h *Handshake) runDialer(ctx context.Context) (cryptoapi.PublicKey, error) {
	var zero cryptoapi.PublicKey

	req := communicationRequestMessage{
		Command:         commandCommunicationRequest,
		SourcePublicKey: hex.EncodeToString(h.cfg.LocalCrypto.PublicKey().Bytes()),
		TargetPublicKey: hex.EncodeToString(h.cfg.RemotePublicKey.Bytes()),
	}
	if err := h.sendJSON(req); err != nil {
		return zero, err
	}

	if err := h.awaitStep(ctx, "communication_ready", func(stepCtx context.Context) error {
		var ready communicationReadyMessage
		return h.promise.WaitForJSONMessageWithType(stepCtx, commandCommunicationReady, &ready)
	}); err != nil {
		return zero, err
	}

	keyed, err := h.installEncryption(h.cfg.RemotePublicKey)
	if err != nil {
		return zero, err
	}
	_ = keyed

	challenge, err := h.recvChallenge(ctx)
	if err != nil {
		return zero, err
	}

	if err := h.sendBinary(invert(challenge)); err != nil {
		return zero, err
	}

	syncValue := hex.EncodeToString(randomBytes(16))
	if err := h.sendJSON(synchronisationMessage{Command: commandSynchronisation, Value: syncValue}); err != nil {
		return zero, err
	}
	if err := h.awaitStep(ctx, "synchronisation", func(stepCtx context.Context) error {
		var echoed synchronisationMessage
		if err := h.promise.WaitForJSONMessageWithType(stepCtx, commandSynchronisation, &echoed); err != nil {
			return err
		}
		if echoed.Value != syncValue {
			return errProtocol("synchronisation value did not match")
		}
		return nil
	}); err != nil {
		return zero, err
	}

	return h.cfg.RemotePublicKey, nil
}

func (h *Handshake) runAcceptor(ctx context.Context) (cryptoapi.PublicKey, error) {
	var zero cryptoapi.PublicKey
	var remote cryptoapi.PublicKey

	if err := h.awaitStep(ctx, "communication_request", func(stepCtx context.Context) error {
		var req communicationRequestMessage
		if err := h.promise.WaitForJSONMessageWithType(stepCtx, commandCommunicationRequest, &req); err != nil {
			return err
		}
		srcBytes, err := hex.DecodeString(req.SourcePublicKey)
		if err != nil || len(srcBytes) != cryptoapi.KeySize {
			return errProtocol("malformed sourcePublicKey")
		}
		tgtBytes, err := hex.DecodeString(req.TargetPublicKey)
		if err != nil || len(tgtBytes) != cryptoapi.KeySize {
			return errProtocol("malformed targetPublicKey")
		}
		var tgt cryptoapi.PublicKey
		copy(tgt[:], tgtBytes)
		if tgt != h.cfg.LocalCrypto.PublicKey() {
			return errProtocol("targetPublicKey does not match this identity")
		}
		copy(remote[:], srcBytes)
		return nil
	}); err != nil {
		return zero, err
	}

	if err := h.sendJSON(communicationReadyMessage{Command: commandCommunicationReady}); err != nil {
		return zero, err
	}

	if _, err := h.installEncryption(remote); err != nil {
		return zero, err
	}

	challenge := randomBytes(challengeSize)
	if err := h.sendBinary(challenge); err != nil {
		return zero, err
	}

	response, err := h.recvBinary(ctx, "challenge_response")
	if err != nil {
		return zero, err
	}
	if !bytesEqual(response, invert(challenge)) {
		return zero, errAuthFailure()
	}

	var echo synchronisationMessage
	if err := h.awaitStep(ctx, "synchronisation", func(stepCtx context.Context) error {
		return h.promise.WaitForJSONMessageWithType(stepCtx, commandSynchronisation, &echo)
	}); err != nil {
		return zero, err
	}
	if err := h.sendJSON(echo); err != nil {
		return zero, err
	}

	return remote, nil
}

func (h *Handshake) installEncryption(remote cryptoapi.PublicKey) (cryptoapi.SymmetricCryptoApi, error) {
	symSession, err := h.cfg.LocalCrypto.EncryptDecryptFor(remote)
	if err != nil {
		return nil, errProtocol("derive shared session: " + err.Error())
	}
	keyed, err := symSession.SharedKey(remote)
	if err != nil {
		return nil, errProtocol("derive counter-nonce key: " + err.Error())
	}
	if err := h.conn.AddPlugin(connection.NewFramingPlugin(keyed)); err != nil {
		return nil, errProtocol("install encryption plugin: " + err.Error())
	}
	return keyed, nil
}

func (h *Handshake) recvChallenge(ctx context.Context) ([]byte, error) {
	return h.recvBinary(ctx, "challenge")
}

func (h *Handshake) recvBinary(ctx context.Context, stage string) ([]byte, error) {
	var out []byte
	err := h.awaitStep(ctx, stage, func(stepCtx context.Context) error {
		b, err := h.promise.WaitForBinaryMessage(stepCtx)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (h *Handshake) sendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errProtocol("marshal: " + err.Error())
	}
	return h.conn.Send(connection.TextMessage(string(b)))
}

func (h *Handshake) sendBinary(b []byte) error {
	return h.conn.Send(connection.BytesMessage(b))
}

// awaitStep runs fn under a per-step deadline and records its latency.
func (h *Handshake) awaitStep(ctx context.Context, stage string, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, h.cfg.StepTimeout)
	defer cancel()

	err := fn(stepCtx)
	metrics.HandshakeDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

func invert(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = ^v
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func errProtocol(msg string) error {
	return fmt.Errorf("handshake: protocol error: %s", msg)
}

// errAuthenticationFailure is the sentinel returned when the challenge
// response does not match, so callers can match it with errors.Is.
var errAuthenticationFailure = errors.New("handshake: " + connection.CloseReasonAuthenticationFail)

func errAuthFailure() error {
	return errAuthenticationFailure
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errAuthenticationFailure):
		return "authentication_failure"
	default:
		return "protocol_error"
	}
}

func closeReasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "handshake timed out"
	case errors.Is(err, errAuthenticationFailure):
		return connection.CloseReasonAuthenticationFail
	default:
		return "handshake protocol error"
	}
}
