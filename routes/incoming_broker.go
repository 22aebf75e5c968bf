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

package routes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/handshake"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

const (
	brokerCommandRegister               = "register"
	brokerCommandAuthenticationRequest  = "authentication_request"
	brokerCommandAuthenticationResponse = "authentication_response"
	brokerCommandAuthenticationSuccess  = "authentication_success"
	brokerCommandConnectionHandover     = "connection_handover"
)

type brokerRegisterMessage struct {
	Command   string `json:"command"`
	PublicKey string `json:"publicKey"`
}

type brokerAuthRequestMessage struct {
	Command   string `json:"command"`
	Challenge string `json:"challenge"`
	PublicKey string `json:"publicKey"`
}

type brokerAuthResponseMessage struct {
	Command  string `json:"command"`
	Response string `json:"response"`
}

type brokerAuthSuccessMessage struct {
	Command string `json:"command"`
}

// IncomingViaBrokerConfig configures an IncomingViaBroker route.
type IncomingViaBrokerConfig struct {
	BrokerURL string
	Crypto    cryptoapi.CryptoApi

	OnConnect OnConnect

	RegisterTimeout  time.Duration
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PingRTT          time.Duration
	PromiseQueueSize int

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Log logger.Logger
}

func (c *IncomingViaBrokerConfig) withDefaults() IncomingViaBrokerConfig {
	out := *c
	if out.RegisterTimeout <= 0 {
		out.RegisterTimeout = 10 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = handshake.DefaultStepTimeout
	}
	if out.PingPeriod <= 0 {
		out.PingPeriod = 25 * time.Second
	}
	if out.PingRTT <= 0 {
		out.PingRTT = 2 * time.Second
	}
	if out.PromiseQueueSize <= 0 {
		out.PromiseQueueSize = connection.DefaultPromiseQueueSize
	}
	if out.MinBackoff <= 0 {
		out.MinBackoff = DefaultDialMinBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = DefaultDialMaxBackoff
	}
	if out.Log == nil {
		out.Log = logger.GetDefaultLogger()
	}
	return out
}

// IncomingViaBroker maintains a standing registration with a rendezvous
// broker (see package broker) and runs the acceptor handshake on whatever
// socket the broker hands over. It re-registers whenever the registration
// drops, whether because the broker replaced its spare-queue slot or a
// dialer was spliced to it and that splice later ended.
type IncomingViaBroker struct {
	cfg IncomingViaBrokerConfig

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// NewIncomingViaBroker constructs a broker-registration route.
func NewIncomingViaBroker(cfg IncomingViaBrokerConfig) *IncomingViaBroker {
	return &IncomingViaBroker{cfg: cfg.withDefaults()}
}

// ID is stable for a given broker URL/identity pair.
func (r *IncomingViaBroker) ID() string {
	return fmt.Sprintf("broker|%s|%x", r.cfg.BrokerURL, r.cfg.Crypto.PublicKey().Bytes())
}

// Start begins the background register/reconnect loop.
func (r *IncomingViaBroker) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.active = true
	go r.registerLoop(ctx)
	metrics.RoutesActive.WithLabelValues("broker").Inc()
	return nil
}

// Stop cancels any pending reconnect and any in-flight registration.
func (r *IncomingViaBroker) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.cancel()
	metrics.RoutesActive.WithLabelValues("broker").Dec()
}

// Active reports whether the registration loop is currently running.
func (r *IncomingViaBroker) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Outgoing is always false: IncomingViaBroker only accepts sockets handed
// over by the broker.
func (r *IncomingViaBroker) Outgoing() bool { return false }

// Type identifies this route variant.
func (r *IncomingViaBroker) Type() string { return "broker" }

func (r *IncomingViaBroker) registerLoop(ctx context.Context) {
	delay := r.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if r.attemptOnce(ctx) {
			delay = r.cfg.MinBackoff
			continue
		}
		metrics.RouteDialBackoff.Observe(delay.Seconds())
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.cfg.MaxBackoff {
			delay = r.cfg.MaxBackoff
		}
	}
}

// attemptOnce registers with the broker, waits for a dialer to be spliced
// in, and runs the acceptor handshake over the resulting socket. It blocks
// until that connection (if any) closes.
func (r *IncomingViaBroker) attemptOnce(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.RegisterTimeout)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.cfg.BrokerURL, nil)
	cancel()
	if err != nil {
		metrics.RouteAccepts.WithLabelValues("broker", "dial_error").Inc()
		return false
	}

	if err := r.register(ws); err != nil {
		metrics.RouteAccepts.WithLabelValues("broker", "register_error").Inc()
		ws.Close()
		return false
	}

	// Parked: wait for the broker to hand the socket over to a dialer.
	ws.SetReadDeadline(time.Time{})
	_, handoverData, err := ws.ReadMessage()
	if err != nil {
		metrics.RouteAccepts.WithLabelValues("broker", "parked_closed").Inc()
		ws.Close()
		return false
	}
	var handover connection.CommandFrame
	if err := json.Unmarshal(handoverData, &handover); err != nil || handover.Command != brokerCommandConnectionHandover {
		metrics.RouteAccepts.WithLabelValues("broker", "protocol_error").Inc()
		ws.Close()
		return false
	}

	conn := connection.New(ws, r.cfg.Log)
	pingPong := connection.NewPingPongPlugin(connection.PingPongPassive, r.cfg.PingPeriod, r.cfg.PingRTT)
	promise := connection.NewPromisePlugin(r.cfg.PromiseQueueSize)
	stats := connection.NewStatisticsPlugin()
	_ = conn.AddPlugin(pingPong)
	_ = conn.AddPlugin(promise)
	_ = conn.AddPlugin(stats)
	conn.Start()

	hsCtx, hsCancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout*4)
	defer hsCancel()

	hs := handshake.New(conn, promise, handshake.Config{
		Role:        handshake.RoleAcceptor,
		LocalCrypto: r.cfg.Crypto,
		StepTimeout: r.cfg.HandshakeTimeout,
	})
	result, err := hs.Run(hsCtx)
	if err != nil {
		metrics.RouteAccepts.WithLabelValues("broker", "handshake_error").Inc()
		conn.Close("handshake failed")
		return false
	}

	metrics.RouteAccepts.WithLabelValues("broker", "success").Inc()
	if r.cfg.OnConnect != nil {
		r.cfg.OnConnect(conn, r.cfg.Crypto.PublicKey(), result.RemotePublicKey, r.ID())
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close("route stopped")
		<-conn.Done()
	}
	return true
}

// register drives the listener side of the broker's registration challenge
// (see broker.handleListener for the server side of this exchange).
func (r *IncomingViaBroker) register(ws *websocket.Conn) error {
	reg := brokerRegisterMessage{
		Command:   brokerCommandRegister,
		PublicKey: hex.EncodeToString(r.cfg.Crypto.PublicKey().Bytes()),
	}
	regBytes, _ := json.Marshal(reg)
	ws.SetWriteDeadline(time.Now().Add(r.cfg.RegisterTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, regBytes); err != nil {
		return err
	}

	ws.SetReadDeadline(time.Now().Add(r.cfg.RegisterTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return err
	}
	var authReq brokerAuthRequestMessage
	if err := json.Unmarshal(data, &authReq); err != nil {
		return err
	}

	ephemeralPubBytes, err := hex.DecodeString(authReq.PublicKey)
	if err != nil || len(ephemeralPubBytes) != cryptoapi.KeySize {
		return fmt.Errorf("routes: malformed broker ephemeral key")
	}
	var ephemeralPub cryptoapi.PublicKey
	copy(ephemeralPub[:], ephemeralPubBytes)

	session, err := r.cfg.Crypto.EncryptDecryptFor(ephemeralPub)
	if err != nil {
		return err
	}
	challengeCipher, err := hex.DecodeString(authReq.Challenge)
	if err != nil {
		return err
	}
	challenge, err := session.DecryptWithEmbeddedNonce(challengeCipher)
	if err != nil {
		return err
	}
	responseCipher, err := session.EncryptAndEmbedNonce(invertBits(challenge))
	if err != nil {
		return err
	}

	resp := brokerAuthResponseMessage{
		Command:  brokerCommandAuthenticationResponse,
		Response: hex.EncodeToString(responseCipher),
	}
	respBytes, _ := json.Marshal(resp)
	ws.SetWriteDeadline(time.Now().Add(r.cfg.RegisterTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, respBytes); err != nil {
		return err
	}

	ws.SetReadDeadline(time.Now().Add(r.cfg.RegisterTimeout))
	_, data, err = ws.ReadMessage()
	if err != nil {
		return err
	}
	var success brokerAuthSuccessMessage
	if err := json.Unmarshal(data, &success); err != nil || success.Command != brokerCommandAuthenticationSuccess {
		return fmt.Errorf("routes: broker registration rejected")
	}
	return nil
}

func invertBits(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = ^v
	}
	return out
}
