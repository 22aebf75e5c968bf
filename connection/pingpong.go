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
	"encoding/json"
	"sync"
	"time"
)

const (
	PingCommand = "comm_ping"
	PongCommand = "comm_pong"
)

type CommandFrame struct {
	Command string `json:"command"`
}

var (
	PingFrame = mustMarshalCommand(PingCommand)
	PongFrame = mustMarshalCommand(PongCommand)
)

func mustMarshalCommand(command string) string {
	b, err := json.Marshal(CommandFrame{Command: command})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// PingPongRole distinguishes the side that originates pings (active, the
// dialer's usual role) from the side that only answers them (passive).
type PingPongRole int

const (
	PingPongActive PingPongRole = iota
	PingPongPassive
)

// PingPongPlugin implements the keep-alive and liveness-detection layer.
// The active side sends a comm_ping every period and expects a comm_pong
// within period+RTT; the passive side answers every comm_ping it sees and
// expects the next one within period+2*RTT. Neither frame ever reaches the
// plugins above this one.
type PingPongPlugin struct {
	BasePlugin

	role   PingPongRole
	period time.Duration
	rtt    time.Duration

	mu         sync.Mutex
	sendTimer  *time.Timer
	timeoutTmr *time.Timer
	stopped    bool
}

// NewPingPongPlugin constructs the plugin for the given role. period is the
// ping interval (P in the spec); rtt is the round-trip estimate used to pad
// the timeout windows.
func NewPingPongPlugin(role PingPongRole, period, rtt time.Duration) *PingPongPlugin {
	return &PingPongPlugin{role: role, period: period, rtt: rtt}
}

// Name implements Plugin.
func (p *PingPongPlugin) Name() string { return "pingpong" }

// Attach starts the role-appropriate timers. A later re-attach (the chain
// changed) only updates the emitter and keeps the running timers.
func (p *PingPongPlugin) Attach(e Emitter) {
	p.BasePlugin.Attach(e)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendTimer != nil || p.timeoutTmr != nil {
		return
	}
	switch p.role {
	case PingPongActive:
		p.sendTimer = time.AfterFunc(p.period, p.sendPing)
		p.timeoutTmr = time.AfterFunc(p.period+p.rtt, p.timedOut)
	case PingPongPassive:
		p.timeoutTmr = time.AfterFunc(p.period+2*p.rtt, p.timedOut)
	}
}

// Detach stops all timers so they cannot fire after the connection closes.
func (p *PingPongPlugin) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.sendTimer != nil {
		p.sendTimer.Stop()
	}
	if p.timeoutTmr != nil {
		p.timeoutTmr.Stop()
	}
}

func (p *PingPongPlugin) sendPing() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.sendTimer.Reset(p.period)
	p.mu.Unlock()

	if e := p.Emitter(); e != nil {
		e.EmitOutgoing(TextMessage(PingFrame))
	}
}

func (p *PingPongPlugin) timedOut() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if e := p.Emitter(); e != nil {
		e.CloseWithReason(CloseReasonPingPongTimeout)
	}
}

// TransformIncoming resets the role's watchdogs on every incoming frame,
// then additionally absorbs comm_ping/comm_pong JSON frames; every other
// event passes through unchanged.
func (p *PingPongPlugin) TransformIncoming(evt Event) (Event, bool) {
	if evt.Kind == EventMessage {
		p.resetWatchdogs()
	}
	if evt.Kind != EventMessage || !evt.IsText {
		return evt, true
	}

	var frame CommandFrame
	if err := json.Unmarshal([]byte(evt.Text), &frame); err != nil {
		return evt, true
	}

	switch frame.Command {
	case PingCommand:
		if e := p.Emitter(); e != nil {
			e.EmitOutgoing(TextMessage(PongFrame))
		}
		return evt, false
	case PongCommand:
		return evt, false
	default:
		return evt, true
	}
}

// resetWatchdogs implements "on every incoming frame, both timers reset":
// the active side's send-timer and timeout-timer, or the passive side's
// single timeout-timer.
func (p *PingPongPlugin) resetWatchdogs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	switch p.role {
	case PingPongActive:
		if p.sendTimer != nil {
			p.sendTimer.Reset(p.period)
		}
		if p.timeoutTmr != nil {
			p.timeoutTmr.Reset(p.period + p.rtt)
		}
	case PingPongPassive:
		if p.timeoutTmr != nil {
			p.timeoutTmr.Reset(p.period + 2*p.rtt)
		}
	}
}
