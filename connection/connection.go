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

// Package connection implements the duplex event pipeline every WebSocket
// passes through: a Connection owns the socket and an ordered chain of
// Plugins. Incoming events travel socket->application through
// TransformIncoming; outgoing events travel application->socket through
// TransformOutgoing. Above the point where the encryption plugin is
// installed, data is plaintext; below it, ciphertext.
package connection

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/internal/logger"
)

// EncryptionPluginName is the well-known name of the framing/encryption
// plugin; it is the only plugin that may be installed after the connection
// has left the pre-handshake state (spec's "encryption plugin is installed
// at the transition point").
const EncryptionPluginName = "encryption"

// Handler receives the fully-transformed events emitted at the top of the
// pipeline: opened once, each delivered message, and the final closed event.
type Handler interface {
	OnOpened(c *Connection)
	OnMessage(c *Connection, evt Event)
	OnClosed(c *Connection, reason string, origin CloseOrigin)
}

var nextConnectionID uint64

// Connection is a stateful duplex channel owning a WebSocket and an ordered
// list of plugins. Created by a route on socket open; destroyed when
// closed, locally or remotely.
type Connection struct {
	ID      uint64
	TraceID string

	log logger.Logger

	ws *websocket.Conn

	mu              sync.Mutex
	plugins         []Plugin
	handshakeClosed bool // true once the encryption plugin has been installed
	closed          bool
	closeOnce       sync.Once

	writeMu sync.Mutex
	handler Handler

	doneCh chan struct{}
}

// New wraps an already-open *websocket.Conn in a Connection with an empty
// plugin chain. Call SetHandler before Start to receive events.
func New(ws *websocket.Conn, log logger.Logger) *Connection {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Connection{
		ID:      atomic.AddUint64(&nextConnectionID, 1),
		TraceID: uuid.NewString(),
		log:     log,
		ws:      ws,
		doneCh:  make(chan struct{}),
	}
}

// Done returns a channel closed once the connection has finished closing,
// for callers (such as a route or routes group) that need to notice closure
// without occupying the Handler slot.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

// SetHandler installs the receiver for top-of-pipeline events.
func (c *Connection) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// AddPlugin appends a plugin to the chain, nearest-application end. Plugins
// may only be added while the connection is pre-handshake, except for the
// encryption plugin, which the handshake installs at the transition point
// and which always takes the nearest-socket slot: everything added before
// it was exchanged as plaintext and must now pass through it first.
func (c *Connection) AddPlugin(p Plugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handshakeClosed && p.Name() != EncryptionPluginName {
		return wrapError("PROTOCOL_ERROR", "plugins may not be added after the handshake, except \"encryption\"", nil)
	}

	if p.Name() == EncryptionPluginName {
		c.plugins = append([]Plugin{p}, c.plugins...)
		c.handshakeClosed = true
	} else {
		c.plugins = append(c.plugins, p)
	}
	c.reattachLocked()
	return nil
}

// reattachLocked re-binds every plugin's Emitter to its current index.
// Called with c.mu held, whenever the chain's order changes.
func (c *Connection) reattachLocked() {
	for i, p := range c.plugins {
		p.Attach(&pluginEmitter{conn: c, index: i})
	}
}

// GetPlugin looks up a plugin by name.
func (c *Connection) GetPlugin(name string) (Plugin, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Start begins the read loop. It must be called once, after the desired
// pre-handshake plugins (if any) have been attached. The opened event is
// delivered to the handler immediately.
func (c *Connection) Start() {
	c.dispatchIncomingFrom(0, OpenedEvent())
	go c.readLoop()
}

func (c *Connection) readLoop() {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finishClose(err.Error(), CloseOriginRemote)
			return
		}

		var evt Event
		switch messageType {
		case websocket.TextMessage:
			evt = TextMessage(string(data))
		case websocket.BinaryMessage:
			evt = BytesMessage(data)
		default:
			continue
		}
		c.dispatchIncomingFrom(0, evt)
	}
}

// dispatchIncomingFrom runs evt through plugins[from:] in order, delivering
// the surviving result to the handler.
func (c *Connection) dispatchIncomingFrom(from int, evt Event) {
	c.mu.Lock()
	plugins := c.plugins
	handler := c.handler
	c.mu.Unlock()

	ok := true
	for i := from; i < len(plugins) && ok; i++ {
		evt, ok = plugins[i].TransformIncoming(evt)
	}
	if !ok || handler == nil {
		return
	}
	switch evt.Kind {
	case EventOpened:
		handler.OnOpened(c)
	case EventMessage:
		handler.OnMessage(c, evt)
	case EventClosed:
		handler.OnClosed(c, evt.Reason, evt.Origin)
	}
}

// Send pushes an application-originated message down through the full
// plugin chain (application to socket).
func (c *Connection) Send(evt Event) error {
	c.mu.Lock()
	n := len(c.plugins)
	c.mu.Unlock()
	return c.dispatchOutgoingFrom(n, evt)
}

// dispatchOutgoingFrom runs evt through plugins[:from] in reverse order,
// then writes the surviving result to the socket.
func (c *Connection) dispatchOutgoingFrom(from int, evt Event) error {
	c.mu.Lock()
	plugins := c.plugins
	c.mu.Unlock()

	ok := true
	for i := from - 1; i >= 0 && ok; i-- {
		evt, ok = plugins[i].TransformOutgoing(evt)
	}
	if !ok {
		return nil
	}

	switch evt.Kind {
	case EventMessage:
		return c.writeMessage(evt)
	case EventClose:
		c.finishClose(evt.Reason, CloseOriginLocal)
		return nil
	default:
		return nil
	}
}

func (c *Connection) writeMessage(evt Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if evt.IsText {
		return c.ws.WriteMessage(websocket.TextMessage, []byte(evt.Text))
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, evt.Bytes)
}

// Close tears the connection down with reason, as if the application had
// requested it.
func (c *Connection) Close(reason string) {
	c.finishClose(reason, CloseOriginLocal)
}

func (c *Connection) finishClose(reason string, origin CloseOrigin) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		plugins := c.plugins
		c.mu.Unlock()

		_ = c.ws.Close()
		for _, p := range plugins {
			p.Detach()
		}
		c.dispatchIncomingFrom(0, ClosedEvent(reason, origin))
		close(c.doneCh)
	})
}

// IsClosed reports whether the connection has finished closing.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pluginEmitter is the Emitter a specific plugin (by chain index) uses to
// originate events and request closure.
type pluginEmitter struct {
	conn  *Connection
	index int
}

func (e *pluginEmitter) EmitIncoming(evt Event) {
	e.conn.dispatchIncomingFrom(e.index+1, evt)
}

func (e *pluginEmitter) EmitOutgoing(evt Event) {
	_ = e.conn.dispatchOutgoingFrom(e.index, evt)
}

func (e *pluginEmitter) CloseWithReason(reason string) {
	e.conn.finishClose(reason, CloseOriginLocal)
}
