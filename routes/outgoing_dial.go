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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/handshake"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

// DefaultDialMinBackoff and DefaultDialMaxBackoff bound OutgoingDial's
// exponential reconnect delay.
const (
	DefaultDialMinBackoff = 1 * time.Second
	DefaultDialMaxBackoff = 60 * time.Second
)

// OutgoingDialConfig configures an OutgoingDial route.
type OutgoingDialConfig struct {
	URL             string
	Crypto          cryptoapi.CryptoApi
	RemotePublicKey cryptoapi.PublicKey

	OnConnect OnConnect

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PingRTT          time.Duration
	PromiseQueueSize int

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Log logger.Logger
}

func (c *OutgoingDialConfig) withDefaults() OutgoingDialConfig {
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
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

// OutgoingDial repeatedly dials a peer URL, running the dialer half of the
// handshake on each successful connect. Failures (dial or handshake) trigger
// a reconnect after an exponential backoff delay capped at MaxBackoff; a
// successful handshake resets the delay, and once that connection closes,
// however soon, the next dial starts without delay.
type OutgoingDial struct {
	cfg OutgoingDialConfig

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewOutgoingDial constructs a dial route. Call Start to begin dialing.
func NewOutgoingDial(cfg OutgoingDialConfig) *OutgoingDial {
	return &OutgoingDial{cfg: cfg.withDefaults()}
}

// ID is stable for a given URL/target-key pair.
func (r *OutgoingDial) ID() string {
	return fmt.Sprintf("dial|%s|%x", r.cfg.URL, r.cfg.RemotePublicKey.Bytes())
}

// Start launches the background dial loop. Idempotent while already active.
func (r *OutgoingDial) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopped = make(chan struct{})
	r.active = true

	go r.dialLoop(ctx)

	metrics.RoutesActive.WithLabelValues("dial").Inc()
	return nil
}

// Stop cancels any pending reconnect and any in-flight dial, and returns
// without waiting for the dial loop goroutine to fully unwind.
func (r *OutgoingDial) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.cancel()
	metrics.RoutesActive.WithLabelValues("dial").Dec()
}

// Active reports whether the dial loop is currently running.
func (r *OutgoingDial) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Outgoing is always true: OutgoingDial only ever dials out.
func (r *OutgoingDial) Outgoing() bool { return true }

// Type identifies this route variant.
func (r *OutgoingDial) Type() string { return "dial" }

func (r *OutgoingDial) dialLoop(ctx context.Context) {
	defer close(r.stopped)

	delay := r.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		ok := r.attemptOnce(ctx)
		if ok {
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

// attemptOnce dials once and, on a successful handshake, blocks until the
// resulting connection closes (so the loop only retries after the
// connection has actually ended). It returns whether the attempt produced a
// usable connection at all.
func (r *OutgoingDial) attemptOnce(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.cfg.URL, nil)
	if err != nil {
		metrics.RouteDialAttempts.WithLabelValues("dial_error").Inc()
		return false
	}

	conn := connection.New(ws, r.cfg.Log)
	pingPong := connection.NewPingPongPlugin(connection.PingPongActive, r.cfg.PingPeriod, r.cfg.PingRTT)
	promise := connection.NewPromisePlugin(r.cfg.PromiseQueueSize)
	stats := connection.NewStatisticsPlugin()
	_ = conn.AddPlugin(pingPong)
	_ = conn.AddPlugin(promise)
	_ = conn.AddPlugin(stats)
	conn.Start()

	hsCtx, hsCancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout*4)
	defer hsCancel()

	hs := handshake.New(conn, promise, handshake.Config{
		Role:            handshake.RoleDialer,
		LocalCrypto:     r.cfg.Crypto,
		RemotePublicKey: r.cfg.RemotePublicKey,
		StepTimeout:     r.cfg.HandshakeTimeout,
	})
	result, err := hs.Run(hsCtx)
	if err != nil {
		metrics.RouteDialAttempts.WithLabelValues("handshake_error").Inc()
		conn.Close("handshake failed")
		return false
	}

	metrics.RouteDialAttempts.WithLabelValues("success").Inc()

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
