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
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/handshake"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

// IncomingDirectConfig configures an IncomingDirect route.
type IncomingDirectConfig struct {
	Host   string
	Port   int
	Crypto cryptoapi.CryptoApi

	OnConnect OnConnect

	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PingRTT          time.Duration
	PromiseQueueSize int

	Log logger.Logger
}

func (c *IncomingDirectConfig) withDefaults() IncomingDirectConfig {
	out := *c
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
	if out.Log == nil {
		out.Log = logger.GetDefaultLogger()
	}
	return out
}

// IncomingDirect listens for raw WebSocket connections on host:port and runs
// the acceptor half of the handshake on each, producing a tuple for every
// one that authenticates.
type IncomingDirect struct {
	cfg IncomingDirectConfig

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	active   bool
}

// NewIncomingDirect constructs a listener route. Call Start to bind.
func NewIncomingDirect(cfg IncomingDirectConfig) *IncomingDirect {
	return &IncomingDirect{cfg: cfg.withDefaults()}
}

// ID is stable for a given host:port pair.
func (r *IncomingDirect) ID() string {
	return fmt.Sprintf("direct|%s|%d", r.cfg.Host, r.cfg.Port)
}

// Start binds the listener and begins accepting sockets in the background.
func (r *IncomingDirect) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("routes: direct listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleUpgrade)
	r.listener = ln
	r.server = &http.Server{Handler: mux}
	r.active = true

	go func() {
		_ = r.server.Serve(ln)
	}()

	metrics.RoutesActive.WithLabelValues("direct").Inc()
	return nil
}

// Stop closes the listener. Sockets that were already upgraded are not
// closed by it; their handshakes run on until they finish or time out.
func (r *IncomingDirect) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	if r.server != nil {
		_ = r.server.Close()
	}
	metrics.RoutesActive.WithLabelValues("direct").Dec()
}

// Active reports whether the listener is currently bound.
func (r *IncomingDirect) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Outgoing is always false: IncomingDirect only accepts sockets.
func (r *IncomingDirect) Outgoing() bool { return false }

// Type identifies this route variant.
func (r *IncomingDirect) Type() string { return "direct" }

// Addr returns the bound listener address, useful when Port was 0. Returns
// nil if the route has not been started.
func (r *IncomingDirect) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

var directUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (r *IncomingDirect) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	ws, err := directUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.cfg.Log.Warn("routes: direct upgrade failed", logger.Error(err))
		return
	}
	go r.acceptConn(ws)
}

func (r *IncomingDirect) acceptConn(ws *websocket.Conn) {
	conn := connection.New(ws, r.cfg.Log)
	pingPong := connection.NewPingPongPlugin(connection.PingPongPassive, r.cfg.PingPeriod, r.cfg.PingRTT)
	promise := connection.NewPromisePlugin(r.cfg.PromiseQueueSize)
	stats := connection.NewStatisticsPlugin()
	_ = conn.AddPlugin(pingPong)
	_ = conn.AddPlugin(promise)
	_ = conn.AddPlugin(stats)
	conn.Start()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HandshakeTimeout*4)
	defer cancel()

	hs := handshake.New(conn, promise, handshake.Config{
		Role:        handshake.RoleAcceptor,
		LocalCrypto: r.cfg.Crypto,
		StepTimeout: r.cfg.HandshakeTimeout,
	})
	result, err := hs.Run(ctx)
	if err != nil {
		metrics.RouteAccepts.WithLabelValues("direct", "handshake_error").Inc()
		conn.Close("handshake failed")
		return
	}

	metrics.RouteAccepts.WithLabelValues("direct", "success").Inc()
	if r.cfg.OnConnect != nil {
		r.cfg.OnConnect(conn, r.cfg.Crypto.PublicKey(), result.RemotePublicKey, r.ID())
	}
}
