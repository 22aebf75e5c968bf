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

// Plugin transforms events flowing through a Connection's pipeline. Each
// transform either returns a (possibly different) event to keep propagating
// it, or ok=false to stop propagation entirely (the pure-mapper "⊥").
//
// transformIncoming runs socket-to-application, in chain order.
// transformOutgoing runs application-to-socket, in reverse chain order.
//
// A plugin may also originate events asynchronously (a ping plugin's timer,
// the encryption plugin's handshake messages) by calling back into the
// Connection via the Emitter handed to it at Attach time.
type Plugin interface {
	// Name uniquely identifies this plugin within a Connection's chain.
	Name() string

	// TransformIncoming processes an event moving from the socket upward.
	TransformIncoming(evt Event) (Event, bool)

	// TransformOutgoing processes an event moving from the application
	// downward, toward the socket.
	TransformOutgoing(evt Event) (Event, bool)

	// Attach is called when the plugin is added to a Connection, and again
	// on every plugin whenever the chain changes, giving it a handle (for
	// its current chain position) to originate events and inspect
	// connection state.
	Attach(emitter Emitter)

	// Detach is called once, when the connection closes, so the plugin can
	// release timers and other resources.
	Detach()
}

// Emitter is the callback surface a Plugin uses to originate events outside
// of a transform call (timers, handshake continuations) and to push a frame
// toward the socket through the plugins below it in the chain.
type Emitter interface {
	// EmitIncoming injects evt as if it had arrived from the socket, running
	// it through every plugin above the caller.
	EmitIncoming(evt Event)
	// EmitOutgoing injects evt as if the application had sent it, running it
	// through every plugin below the caller (including the socket write).
	EmitOutgoing(evt Event)
	// CloseWithReason tears the connection down immediately.
	CloseWithReason(reason string)
}

// BasePlugin provides no-op defaults for Attach/Detach and pass-through
// transforms, so concrete plugins only implement the methods they need.
type BasePlugin struct {
	emitter Emitter
}

func (b *BasePlugin) Attach(e Emitter) { b.emitter = e }
func (b *BasePlugin) Detach()          {}

func (b *BasePlugin) TransformIncoming(evt Event) (Event, bool) { return evt, true }
func (b *BasePlugin) TransformOutgoing(evt Event) (Event, bool) { return evt, true }

// Emitter returns the Emitter handed to Attach, or nil before attachment.
func (b *BasePlugin) Emitter() Emitter { return b.emitter }
