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

// Package dedup provides a TTL-keyed "have I seen this recently" cache.
// The routes-group manager uses it to implement the duplicate window: a
// freshly Idle->Active route is allowed to replace an existing connection
// for the same target only if no equivalent route has been seen within the
// configured window.
package dedup

import (
	"sync"
	"time"
)

// Cache records (group, member) pairs whose fixed TTL window was opened by
// Arm.
type Cache struct {
	ttl  time.Duration
	data sync.Map // group -> *sync.Map (member -> expiryUnixNano)
	tick *time.Ticker
	stop chan struct{}
}

// New creates a TTL-based dedup cache. ttl is the duplicate window: Seen
// reports a (group, member) pair as a duplicate within ttl of the Arm call
// that opened its window.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:  ttl,
		stop: make(chan struct{}),
		tick: time.NewTicker(time.Minute),
	}
	go c.gcLoop()
	return c
}

// Arm opens a duplicate window for (group, member) lasting ttl from now,
// overwriting any window already recorded for it. Callers arm a window once
// per logical lifetime (e.g. a routes group's first connection); Seen only
// ever reads it back, so the window is never silently extended by later
// activity.
func (c *Cache) Arm(group, member string) {
	if group == "" || member == "" {
		return
	}
	exp := time.Now().Add(c.ttl).UnixNano()
	v, _ := c.data.LoadOrStore(group, &sync.Map{})
	m := v.(*sync.Map)
	m.Store(member, exp)
}

// Seen reports whether (group, member) is still within a window armed by a
// prior call to Arm. It never records or extends a window itself: once the
// armed window expires, Seen reports false from then on until something
// calls Arm again.
func (c *Cache) Seen(group, member string) bool {
	if group == "" || member == "" {
		return false
	}
	v, ok := c.data.Load(group)
	if !ok {
		return false
	}
	m := v.(*sync.Map)
	old, ok := m.Load(member)
	if !ok {
		return false
	}
	exp, _ := old.(int64)
	return exp >= time.Now().UnixNano()
}

// DeleteGroup removes all entries tracked for a group (call when the group
// is torn down or stopped).
func (c *Cache) DeleteGroup(group string) {
	c.data.Delete(group)
}

// Close stops the background GC goroutine.
func (c *Cache) Close() {
	close(c.stop)
	if c.tick != nil {
		c.tick.Stop()
	}
}

func (c *Cache) gcLoop() {
	for {
		select {
		case <-c.tick.C:
			now := time.Now().UnixNano()
			c.data.Range(func(k, v any) bool {
				m := v.(*sync.Map)
				empty := true
				m.Range(func(mk, mv any) bool {
					if exp, _ := mv.(int64); exp < now {
						m.Delete(mk)
					} else {
						empty = false
					}
					return true
				})
				if empty {
					c.data.Delete(k)
				}
				return true
			})
		case <-c.stop:
			return
		}
	}
}
