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

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics is a point-in-time snapshot of a connection's traffic, read by
// a routes group's connectionStatisticsLog.
type Statistics struct {
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
	OpenedAt         time.Time
	ClosedAt         time.Time
	CloseReason      string
}

// StatisticsPlugin tallies application-level traffic. It should sit above
// the ping/pong plugin so keep-alive frames, which never reach it, are not
// counted as application traffic.
type StatisticsPlugin struct {
	BasePlugin

	bytesSent        uint64
	bytesReceived    uint64
	messagesSent     uint64
	messagesReceived uint64

	mu       sync.Mutex
	openedAt time.Time
	closedAt time.Time
	reason   string
}

// NewStatisticsPlugin constructs an empty counter set.
func NewStatisticsPlugin() *StatisticsPlugin {
	return &StatisticsPlugin{}
}

// Name implements Plugin.
func (p *StatisticsPlugin) Name() string { return "statistics" }

// TransformIncoming tallies received messages and the closed event's
// timestamp/reason; it never alters propagation.
func (p *StatisticsPlugin) TransformIncoming(evt Event) (Event, bool) {
	switch evt.Kind {
	case EventOpened:
		p.mu.Lock()
		p.openedAt = time.Now()
		p.mu.Unlock()
	case EventMessage:
		atomic.AddUint64(&p.messagesReceived, 1)
		atomic.AddUint64(&p.bytesReceived, uint64(len(evt.Payload())))
	case EventClosed:
		p.mu.Lock()
		p.closedAt = time.Now()
		p.reason = evt.Reason
		p.mu.Unlock()
	}
	return evt, true
}

// TransformOutgoing tallies sent messages; it never alters propagation.
func (p *StatisticsPlugin) TransformOutgoing(evt Event) (Event, bool) {
	if evt.Kind == EventMessage {
		atomic.AddUint64(&p.messagesSent, 1)
		atomic.AddUint64(&p.bytesSent, uint64(len(evt.Payload())))
	}
	return evt, true
}

// Snapshot returns the current counters.
func (p *StatisticsPlugin) Snapshot() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Statistics{
		BytesSent:        atomic.LoadUint64(&p.bytesSent),
		BytesReceived:    atomic.LoadUint64(&p.bytesReceived),
		MessagesSent:     atomic.LoadUint64(&p.messagesSent),
		MessagesReceived: atomic.LoadUint64(&p.messagesReceived),
		OpenedAt:         p.openedAt,
		ClosedAt:         p.closedAt,
		CloseReason:      p.reason,
	}
}
