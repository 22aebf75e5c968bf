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
	"context"
	"encoding/json"
	"sync"
)

// DefaultPromiseQueueSize is the default number of pending waiters the
// promise plugin holds before declaring an overflow.
const DefaultPromiseQueueSize = 1

// waiter is one pending resolver parked by a WaitFor* call: TransformIncoming
// dispatches the next incoming frame to the head of the waiter queue, and
// resolve delivers either that frame or a terminal error (overflow, close).
type waiter struct {
	done chan waiterResult
}

type waiterResult struct {
	evt Event
	err error
}

func (w *waiter) resolve(r waiterResult) {
	select {
	case w.done <- r:
	default:
	}
}

// PromisePlugin lets handshake and rendezvous code await a specific
// incoming message synchronously, without wiring up a full Handler. Every
// message still propagates upward as usual; the plugin additionally
// dispatches it to the head of a bounded queue of pending waiters so a
// concurrent WaitFor* call can claim it.
type PromisePlugin struct {
	BasePlugin

	capacity int

	mu          sync.Mutex
	waiters     []*waiter
	closed      bool
	closeReason string
	closeOnce   sync.Once
}

// NewPromisePlugin constructs the plugin with the given bounded waiter-queue
// capacity. A capacity <= 0 is replaced with DefaultPromiseQueueSize.
func NewPromisePlugin(capacity int) *PromisePlugin {
	if capacity <= 0 {
		capacity = DefaultPromiseQueueSize
	}
	return &PromisePlugin{capacity: capacity}
}

// Name implements Plugin.
func (p *PromisePlugin) Name() string { return "promise" }

// TransformIncoming dispatches every message to the head of the waiter
// queue (if any waiter is parked) and resolves all outstanding waiters on
// the terminal closed event, without altering propagation.
func (p *PromisePlugin) TransformIncoming(evt Event) (Event, bool) {
	switch evt.Kind {
	case EventMessage:
		p.dispatch(evt)
	case EventClosed:
		p.closeOnce.Do(func() {
			p.mu.Lock()
			p.closed = true
			p.closeReason = evt.Reason
			pending := p.waiters
			p.waiters = nil
			p.mu.Unlock()
			for _, w := range pending {
				w.resolve(waiterResult{err: wrapError("CONNECTION_CLOSED", evt.Reason, ErrConnectionClosed)})
			}
		})
	}
	return evt, true
}

// dispatch hands evt to the oldest parked waiter, if one exists. A frame
// that arrives with no waiter queued is simply not captured for promise
// purposes; it still propagates upward like any other incoming frame.
func (p *PromisePlugin) dispatch(evt Event) {
	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.mu.Unlock()
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.mu.Unlock()
	w.resolve(waiterResult{evt: evt})
}

// enqueue parks a new waiter at the tail of the queue. If the queue is
// already at capacity, the oldest waiter is evicted and failed with
// QueueOverflow to make room, per the bounded-queue desynchronization check.
func (p *PromisePlugin) enqueue() (*waiter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, wrapError("CONNECTION_CLOSED", p.closeReason, ErrConnectionClosed)
	}
	if len(p.waiters) >= p.capacity {
		oldest := p.waiters[0]
		p.waiters = p.waiters[1:]
		oldest.resolve(waiterResult{err: wrapError("QUEUE_OVERFLOW", ErrQueueOverflow.Message, nil)})
	}
	w := &waiter{done: make(chan waiterResult, 1)}
	p.waiters = append(p.waiters, w)
	return w, nil
}

// forget removes w from the waiter queue without resolving it, used when a
// caller's context expires before a frame or overflow reaches it.
func (p *PromisePlugin) forget(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.waiters {
		if cur == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// pop parks a new waiter and blocks until it is resolved by an incoming
// frame, an overflow eviction, the connection closing, or ctx expiring.
func (p *PromisePlugin) pop(ctx context.Context) (Event, error) {
	w, err := p.enqueue()
	if err != nil {
		return Event{}, err
	}
	select {
	case r := <-w.done:
		return r.evt, r.err
	case <-ctx.Done():
		p.forget(w)
		return Event{}, wrapError("TIMEOUT", ErrTimeout.Message, ctx.Err())
	}
}

// WaitForMessage returns the next incoming message of either kind.
func (p *PromisePlugin) WaitForMessage(ctx context.Context) (Event, error) {
	return p.pop(ctx)
}

// WaitForBinaryMessage returns the next incoming message, failing if it
// arrives as text.
func (p *PromisePlugin) WaitForBinaryMessage(ctx context.Context) ([]byte, error) {
	evt, err := p.pop(ctx)
	if err != nil {
		return nil, err
	}
	if evt.IsText {
		return nil, ErrUnexpectedMessageType
	}
	return evt.Bytes, nil
}

// WaitForJSONMessage decodes the next incoming text message into target,
// failing if it arrives as binary.
func (p *PromisePlugin) WaitForJSONMessage(ctx context.Context, target interface{}) error {
	evt, err := p.pop(ctx)
	if err != nil {
		return err
	}
	if !evt.IsText {
		return ErrUnexpectedMessageType
	}
	return json.Unmarshal([]byte(evt.Text), target)
}

type commandEnvelope struct {
	Command string `json:"command"`
}

// WaitForJSONMessageWithType decodes the next incoming text message into
// target, failing unless its "command" field equals command.
func (p *PromisePlugin) WaitForJSONMessageWithType(ctx context.Context, command string, target interface{}) error {
	evt, err := p.pop(ctx)
	if err != nil {
		return err
	}
	if !evt.IsText {
		return ErrUnexpectedMessageType
	}
	var envelope commandEnvelope
	if err := json.Unmarshal([]byte(evt.Text), &envelope); err != nil {
		return err
	}
	if envelope.Command != command {
		return ErrUnexpectedMessageType
	}
	return json.Unmarshal([]byte(evt.Text), target)
}
