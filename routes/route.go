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

// Package routes implements the three ways a Connection comes into being:
// IncomingDirect listens for raw sockets and runs the acceptor handshake,
// IncomingViaBroker maintains a rendezvous registration and is spliced to
// dialers by the broker, and OutgoingDial repeatedly dials a peer with
// exponential backoff. Every variant produces the same tuple to its
// onConnect callback once a handshake completes.
package routes

import (
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
)

// Route is the capability contract shared by every route variant: it can be
// started and stopped, and reports whether it is currently running. Stop is
// idempotent and must return promptly even if an underlying socket never
// closes cleanly - it signals intent, it does not await teardown.
type Route interface {
	ID() string
	Start() error
	Stop()
	Active() bool

	// Outgoing reports whether this route dials out (true, OutgoingDial) or
	// accepts inbound sockets (false, IncomingDirect/IncomingViaBroker). A
	// routes group stops its outgoing routes while it has an active
	// connection and restarts them once that connection closes.
	Outgoing() bool

	// Type names the route variant ("direct", "broker", "dial"), used for
	// metrics labels and debug dumps.
	Type() string
}

// OnConnect is invoked once a route's underlying handshake completes,
// carrying the resulting Connection plus the local/remote identities and the
// route's stable id. The callback runs on the route's own goroutine; it
// should return quickly (typically: look up or create a routes group, hand
// the connection to it, and return).
type OnConnect func(conn *connection.Connection, localKey, remoteKey cryptoapi.PublicKey, routeID string)
