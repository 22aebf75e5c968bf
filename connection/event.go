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

// EventKind distinguishes the events that travel through the plugin chain.
type EventKind int

const (
	// EventOpened travels incoming only, once, when the underlying socket opens.
	EventOpened EventKind = iota
	// EventMessage carries a payload; it travels both directions.
	EventMessage
	// EventClosed travels incoming only, announcing the socket (or a plugin) tore the connection down.
	EventClosed
	// EventClose travels outgoing only: a request to tear the connection down.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is the unit exchanged between plugins. Exactly one of Bytes/Text is
// meaningful for EventMessage, selected by IsText. Reason/Origin are only
// meaningful for EventClosed.
type Event struct {
	Kind  EventKind
	Bytes []byte
	Text  string
	IsText bool

	Reason string
	// Origin distinguishes a close initiated locally from one reported by the remote peer.
	Origin CloseOrigin
}

// CloseOrigin records who initiated a connection's closure.
type CloseOrigin int

const (
	CloseOriginLocal CloseOrigin = iota
	CloseOriginRemote
)

func (o CloseOrigin) String() string {
	if o == CloseOriginRemote {
		return "remote"
	}
	return "local"
}

// OpenedEvent constructs the single EventOpened value.
func OpenedEvent() Event { return Event{Kind: EventOpened} }

// BytesMessage constructs a binary EventMessage.
func BytesMessage(b []byte) Event { return Event{Kind: EventMessage, Bytes: b} }

// TextMessage constructs a textual EventMessage.
func TextMessage(s string) Event { return Event{Kind: EventMessage, Text: s, IsText: true} }

// ClosedEvent constructs an EventClosed carrying the reason and origin.
func ClosedEvent(reason string, origin CloseOrigin) Event {
	return Event{Kind: EventClosed, Reason: reason, Origin: origin}
}

// CloseEvent constructs the outgoing EventClose request.
func CloseEvent(reason string) Event {
	return Event{Kind: EventClose, Reason: reason}
}

// Payload returns the message payload as bytes regardless of whether it
// arrived as text or binary.
func (e Event) Payload() []byte {
	if e.IsText {
		return []byte(e.Text)
	}
	return e.Bytes
}
