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

// Package broker implements the rendezvous broker: peers that cannot reach
// each other directly register as listeners, park their socket in a
// per-identity spare queue, and are spliced to a dialer's socket the moment
// one arrives addressed to them. The broker never participates in the
// peers' own end-to-end handshake; it only authenticates a listener's
// identity at registration time and forwards frames verbatim afterward.
package broker

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

// DefaultSpareQueueSize is the number of parked listener sockets kept per
// public key before the oldest is dropped.
const DefaultSpareQueueSize = 2

// DefaultRegisterTimeout bounds the registration challenge/response exchange.
const DefaultRegisterTimeout = 10 * time.Second

const (
	commandRegister               = "register"
	commandAuthenticationRequest  = "authentication_request"
	commandAuthenticationResponse = "authentication_response"
	commandAuthenticationSuccess  = "authentication_success"
	commandCommunicationRequest   = "communication_request"
	commandConnectionHandover     = "connection_handover"
)

const challengeSize = 32

type registerMessage struct {
	Command   string `json:"command"`
	PublicKey string `json:"publicKey"`
}

type authenticationRequestMessage struct {
	Command   string `json:"command"`
	Challenge string `json:"challenge"`
	PublicKey string `json:"publicKey"`
}

type authenticationResponseMessage struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}

type authenticationSuccessMessage struct {
	Command string `json:"command"`
}

type communicationRequestMessage struct {
	Command         string `json:"command"`
	SourcePublicKey string `json:"sourcePublicKey"`
	TargetPublicKey string `json:"targetPublicKey"`
}

type connectionHandoverMessage struct {
	Command string `json:"command"`
}

// Config configures a Broker.
type Config struct {
	// SpareQueueSize bounds how many parked sockets a single public key
	// may hold at once. Defaults to DefaultSpareQueueSize.
	SpareQueueSize int
	// PingInterval is the keep-alive period the broker pings parked
	// sockets with.
	PingInterval time.Duration
	// PingRTT estimates the round trip used to pad the pong timeout.
	PingRTT time.Duration
	// RegisterTimeout bounds the registration challenge/response exchange.
	RegisterTimeout time.Duration

	Log logger.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SpareQueueSize <= 0 {
		out.SpareQueueSize = DefaultSpareQueueSize
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 25 * time.Second
	}
	if out.PingRTT <= 0 {
		out.PingRTT = 2 * time.Second
	}
	if out.RegisterTimeout <= 0 {
		out.RegisterTimeout = DefaultRegisterTimeout
	}
	if out.Log == nil {
		out.Log = logger.GetDefaultLogger()
	}
	return out
}

// Broker pairs dialers with registered listeners by public key.
type Broker struct {
	cfg Config

	mu    sync.Mutex
	spare map[cryptoapi.PublicKey][]*parkedListener
}

// New constructs a Broker.
func New(cfg Config) *Broker {
	return &Broker{
		cfg:   cfg.withDefaults(),
		spare: make(map[cryptoapi.PublicKey][]*parkedListener),
	}
}

// HandleConnection takes ownership of an already-upgraded WebSocket and
// drives it as either a listener registration or a dialer request,
// depending on the first frame's command. It returns once the connection's
// role in the broker has concluded: a parked listener is handed off to
// readLoop/keepAliveLoop goroutines that outlive this call, while a dialer
// blocks until its splice ends.
func (b *Broker) HandleConnection(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(b.cfg.RegisterTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	var envelope connection.CommandFrame
	if err := json.Unmarshal(data, &envelope); err != nil {
		ws.Close()
		return
	}

	switch envelope.Command {
	case commandRegister:
		b.handleListener(ws, data)
	case commandCommunicationRequest:
		b.handleDialer(ws, data)
	default:
		ws.Close()
	}
}

func (b *Broker) handleListener(ws *websocket.Conn, firstFrame []byte) {
	var reg registerMessage
	if err := json.Unmarshal(firstFrame, &reg); err != nil {
		ws.Close()
		return
	}
	listenerPub, err := decodeHexKey(reg.PublicKey)
	if err != nil {
		ws.Close()
		return
	}

	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		ws.Close()
		return
	}
	var ephemeralSecret cryptoapi.SecretKey
	copy(ephemeralSecret[:], ephemeralPriv.Bytes())
	ephemeralCrypto, err := cryptoapi.New(ephemeralSecret)
	if err != nil {
		ws.Close()
		return
	}

	session, err := ephemeralCrypto.EncryptDecryptFor(listenerPub)
	if err != nil {
		ws.Close()
		return
	}

	challenge := randomBytes(challengeSize)
	ciphertext, err := session.EncryptAndEmbedNonce(challenge)
	if err != nil {
		ws.Close()
		return
	}

	authReq := authenticationRequestMessage{
		Command:   commandAuthenticationRequest,
		Challenge: hex.EncodeToString(ciphertext),
		PublicKey: hex.EncodeToString(ephemeralCrypto.PublicKey().Bytes()),
	}
	if err := writeJSON(ws, authReq); err != nil {
		ws.Close()
		return
	}

	ws.SetReadDeadline(time.Now().Add(b.cfg.RegisterTimeout))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	var resp authenticationResponseMessage
	if err := json.Unmarshal(respData, &resp); err != nil {
		ws.Close()
		return
	}
	responseCiphertext, err := hex.DecodeString(resp.Response)
	if err != nil {
		ws.Close()
		return
	}
	plaintext, err := session.DecryptWithEmbeddedNonce(responseCiphertext)
	if err != nil || !bytesEqual(plaintext, invert(challenge)) {
		ws.Close()
		return
	}

	if err := writeJSON(ws, authenticationSuccessMessage{Command: commandAuthenticationSuccess}); err != nil {
		ws.Close()
		return
	}

	metrics.BrokerListenersRegistered.Inc()
	b.park(listenerPub, ws)
}

func (b *Broker) handleDialer(ws *websocket.Conn, firstFrame []byte) {
	var req communicationRequestMessage
	if err := json.Unmarshal(firstFrame, &req); err != nil {
		ws.Close()
		return
	}
	targetPub, err := decodeHexKey(req.TargetPublicKey)
	if err != nil {
		ws.Close()
		return
	}

	pl, ok := b.dequeue(targetPub)
	if !ok {
		metrics.BrokerDialsRejected.Inc()
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, connection.CloseReasonNoListenerForTarget),
			deadline)
		ws.Close()
		return
	}

	pl.stopKeepAlive()
	handoverBytes, _ := json.Marshal(connectionHandoverMessage{Command: commandConnectionHandover})
	if !pl.forward(handoverBytes) || !pl.forward(firstFrame) {
		ws.Close()
		return
	}

	metrics.BrokerSplicesStarted.Inc()
	b.splice(ws, pl)
}

// park stashes ws in the listener's spare queue, evicting the oldest entry
// if the queue is already at capacity.
func (b *Broker) park(pub cryptoapi.PublicKey, ws *websocket.Conn) {
	pl := newParkedListener(ws, pub, b.cfg)

	b.mu.Lock()
	q := b.spare[pub]
	var evicted *parkedListener
	if len(q) >= b.cfg.SpareQueueSize {
		evicted = q[0]
		q = q[1:]
	}
	b.spare[pub] = append(q, pl)
	depth := b.totalSpareLocked()
	b.mu.Unlock()

	if evicted != nil {
		evicted.closeWithReason(connection.CloseReasonReplaced)
	}
	metrics.BrokerSpareQueueDepth.Set(float64(depth))
}

// dequeue removes and returns the oldest live parked listener for pub,
// skipping (and discarding) any that died while parked.
func (b *Broker) dequeue(pub cryptoapi.PublicKey) (*parkedListener, bool) {
	b.mu.Lock()
	defer func() {
		metrics.BrokerSpareQueueDepth.Set(float64(b.totalSpareLocked()))
		b.mu.Unlock()
	}()

	q := b.spare[pub]
	for len(q) > 0 {
		pl := q[0]
		q = q[1:]
		b.spare[pub] = q
		if !pl.isClosed() {
			return pl, true
		}
	}
	delete(b.spare, pub)
	return nil, false
}

func (b *Broker) totalSpareLocked() int {
	total := 0
	for _, q := range b.spare {
		total += len(q)
	}
	return total
}

// splice forwards every frame between dialerWS and the parked listener
// until either side closes, then tears both down.
func (b *Broker) splice(dialerWS *websocket.Conn, pl *parkedListener) {
	done := make(chan string, 2)

	go func() {
		for {
			mt, data, err := dialerWS.ReadMessage()
			if err != nil {
				done <- "dialer"
				return
			}
			if err := pl.ws.WriteMessage(mt, data); err != nil {
				done <- "dialer"
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case frame := <-pl.frames:
				if frame.err != nil {
					done <- "listener"
					return
				}
				if err := dialerWS.WriteMessage(frame.messageType, frame.data); err != nil {
					done <- "listener"
					return
				}
			case <-pl.closed:
				done <- "listener"
				return
			}
		}
	}()

	closedBy := <-done
	metrics.BrokerSplicesEnded.WithLabelValues(closedBy).Inc()
	_ = dialerWS.Close()
	pl.closeWithReason("splice ended")
}

func decodeHexKey(s string) (cryptoapi.PublicKey, error) {
	var pub cryptoapi.PublicKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != cryptoapi.KeySize {
		return pub, fmt.Errorf("broker: malformed public key %q", s)
	}
	copy(pub[:], b)
	return pub, nil
}

func writeJSON(ws *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
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
