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

package broker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
)

type rawFrame struct {
	messageType int
	data        []byte
	err         error
}

// parkedListener is a registered listener's socket sitting in a spare
// queue: a single readLoop goroutine owns the socket for its entire
// lifetime (the gorilla websocket forbids concurrent reads), feeding
// whichever consumer is currently active - the keep-alive loop while
// parked, or the splice forwarder once dequeued.
type parkedListener struct {
	ws  *websocket.Conn
	pub cryptoapi.PublicKey
	cfg Config

	frames chan rawFrame

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}
	keepAliveOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

func newParkedListener(ws *websocket.Conn, pub cryptoapi.PublicKey, cfg Config) *parkedListener {
	pl := &parkedListener{
		ws:            ws,
		pub:           pub,
		cfg:           cfg,
		frames:        make(chan rawFrame, 1),
		keepAliveStop: make(chan struct{}),
		keepAliveDone: make(chan struct{}),
		closed:        make(chan struct{}),
	}
	go pl.readLoop()
	go pl.keepAliveLoop()
	return pl
}

func (pl *parkedListener) readLoop() {
	for {
		mt, data, err := pl.ws.ReadMessage()
		select {
		case pl.frames <- rawFrame{messageType: mt, data: data, err: err}:
		case <-pl.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// keepAliveLoop is the broker's active side of ping/pong (see
// connection.PingPongPlugin): it pings on a timer and expects a pong
// within period+RTT, absorbing every frame it sees since only comm_pong
// frames are ever valid on a still-parked listener.
func (pl *parkedListener) keepAliveLoop() {
	defer close(pl.keepAliveDone)

	pingTimer := time.NewTimer(pl.cfg.PingInterval)
	timeoutTimer := time.NewTimer(pl.cfg.PingInterval + pl.cfg.PingRTT)
	defer pingTimer.Stop()
	defer timeoutTimer.Stop()

	for {
		select {
		case <-pl.keepAliveStop:
			return
		case <-pl.closed:
			return
		case <-pingTimer.C:
			if err := pl.ws.WriteMessage(websocket.TextMessage, []byte(connection.PingFrame)); err != nil {
				pl.closeWithReason("listener disconnected")
				return
			}
			pingTimer.Reset(pl.cfg.PingInterval)
		case <-timeoutTimer.C:
			pl.closeWithReason(connection.CloseReasonPingPongTimeout)
			return
		case frame := <-pl.frames:
			if frame.err != nil {
				pl.closeWithReason("listener disconnected")
				return
			}
			var cf connection.CommandFrame
			if json.Unmarshal(frame.data, &cf) == nil && cf.Command == connection.PongCommand {
				timeoutTimer.Reset(pl.cfg.PingInterval + pl.cfg.PingRTT)
			}
		}
	}
}

// stopKeepAlive halts the keep-alive loop and discards any buffered
// keep-alive frames, so they cannot leak into a subsequent splice. It must
// be called, and must return, before forward/splice touch pl.frames.
func (pl *parkedListener) stopKeepAlive() {
	pl.keepAliveOnce.Do(func() { close(pl.keepAliveStop) })
	<-pl.keepAliveDone

	for {
		select {
		case <-pl.frames:
		default:
			return
		}
	}
}

// forward writes data verbatim to the listener, used once to hand it the
// dialer's communication_request before splicing begins.
func (pl *parkedListener) forward(data []byte) bool {
	return pl.ws.WriteMessage(websocket.TextMessage, data) == nil
}

func (pl *parkedListener) closeWithReason(reason string) {
	pl.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = pl.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		_ = pl.ws.Close()
		close(pl.closed)
	})
}

func (pl *parkedListener) isClosed() bool {
	select {
	case <-pl.closed:
		return true
	default:
		return false
	}
}
