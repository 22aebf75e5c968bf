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

// Package routesgroup collapses the routes a single (local, remote, group
// name) triple is reachable by into one logical connection: many Route
// instances may be racing to produce a socket to the same peer, but the
// group keeps exactly one of them active at a time and restarts its
// outgoing routes whenever the active connection drops.
package routesgroup

import (
	"fmt"
	"sync"
	"time"

	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/internal/dedup"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
	"github.com/refinio/one-connect/routes"
)

// State is a RoutesGroup's place in its own small state machine.
type State int

const (
	// StateIdle means no connection has ever been active and none is
	// currently reconnecting.
	StateIdle State = iota
	// StateActive means a connection currently owns the group.
	StateActive
	// StateReconnecting means the active connection closed and outgoing
	// routes are being retried on a backoff schedule.
	StateReconnecting
	// StateStopped means the group has been torn down; it accepts no
	// further connections and rejects whatever arrives.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultMinBackoff and DefaultMaxBackoff bound a group's own reconnect
// delay, layered above whatever backoff its individual outgoing routes run
// internally: this one governs how soon outgoing routes are restarted at
// all after the active connection goes away, theirs governs how soon a
// restarted route's own dial attempts retry.
const (
	DefaultMinBackoff = 1 * time.Second
	DefaultMaxBackoff = 60 * time.Second
)

// GroupOptions configures a RoutesGroup at creation time.
type GroupOptions struct {
	DropDuplicates  bool
	DuplicateWindow time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration

	OnConnectionOpened func(g *RoutesGroup, conn *connection.Connection)
	OnConnectionClosed func(g *RoutesGroup, reason string)
	OnStateChanged     func(g *RoutesGroup, old, new State)

	Log logger.Logger
}

func (o GroupOptions) withDefaults() GroupOptions {
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 2 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = DefaultMinBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.Log == nil {
		o.Log = logger.GetDefaultLogger()
	}
	return o
}

// routeEntry pairs a route with whether the group has currently disabled it
// (outgoing routes are disabled while a connection is active).
type routeEntry struct {
	route    routes.Route
	disabled bool
}

// StatEntry records one past occupant of the group, for debug dumps.
type StatEntry struct {
	RouteID   string
	Stats     connection.Statistics
	ClosedAt  time.Time
	Reason    string
}

// RoutesGroup is the single logical connection for one (local, remote,
// group name) triple, backed by zero or more Route instances that can each
// independently produce a socket to the peer.
type RoutesGroup struct {
	Local     cryptoapi.PublicKey
	Remote    cryptoapi.PublicKey
	Name      string
	CatchAll  bool

	opts GroupOptions

	mu            sync.Mutex
	state         State
	routes        map[string]*routeEntry
	activeConn    *connection.Connection
	activeRouteID string
	activeStats   *connection.StatisticsPlugin
	activeSince   time.Time
	failures      int
	reconnectTmr  *time.Timer
	statLog       []StatEntry

	dedup     *dedup.Cache
	collector *metrics.RoutesCollector
}

func newRoutesGroup(local, remote cryptoapi.PublicKey, name string, catchAll bool, opts GroupOptions) *RoutesGroup {
	opts = opts.withDefaults()
	g := &RoutesGroup{
		Local:     local,
		Remote:    remote,
		Name:      name,
		CatchAll:  catchAll,
		opts:      opts,
		state:     StateIdle,
		routes:    make(map[string]*routeEntry),
		dedup:     dedup.New(opts.DuplicateWindow),
		collector: metrics.NewRoutesCollector(),
	}
	metrics.RoutesGroupsActive.WithLabelValues(g.state.String()).Inc()
	return g
}

// Key identifies the group uniquely within a Manager: local/remote public
// keys plus the group name.
func (g *RoutesGroup) Key() string {
	return fmt.Sprintf("%x|%x|%s", g.Local.Bytes(), g.Remote.Bytes(), g.Name)
}

// State returns the group's current state.
func (g *RoutesGroup) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AddRoute registers a route with the group. Outgoing routes are started
// immediately unless the group already has an active connection, in which
// case they are left disabled until it closes.
func (g *RoutesGroup) AddRoute(r routes.Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry := &routeEntry{route: r}
	g.routes[r.ID()] = entry
	if r.Outgoing() && g.state == StateActive {
		entry.disabled = true
		return
	}
	if g.state == StateStopped {
		return
	}
	_ = r.Start()
}

// RemoveRoute stops and forgets a route.
func (g *RoutesGroup) RemoveRoute(routeID string) {
	g.mu.Lock()
	entry, ok := g.routes[routeID]
	delete(g.routes, routeID)
	g.mu.Unlock()
	if ok {
		entry.route.Stop()
	}
}

// Stats returns a snapshot of the group's collector, for debug dumps.
func (g *RoutesGroup) Stats() *metrics.Snapshot {
	return g.collector.GetSnapshot()
}

// History returns up to the last 32 past occupants of the group.
func (g *RoutesGroup) History() []StatEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]StatEntry, len(g.statLog))
	copy(out, g.statLog)
	return out
}

// connect implements "group selection on connect" once a candidate
// connection has already been routed to this group: it applies the
// duplicate/replace policy, then adopts the connection as active.
func (g *RoutesGroup) connect(conn *connection.Connection, routeID string) {
	g.mu.Lock()

	if g.state == StateStopped {
		g.mu.Unlock()
		conn.Close("stopped")
		return
	}

	if g.activeConn != nil {
		if g.opts.DropDuplicates && g.dedup.Seen(g.Key(), "active") {
			g.mu.Unlock()
			conn.Close(connection.CloseReasonDuplicate)
			metrics.RoutesGroupDuplicatesDropped.Inc()
			g.collector.RecordDuplicateDropped()
			return
		}
		old := g.activeConn
		g.mu.Unlock()
		old.Close(connection.CloseReasonReplaced)
		g.mu.Lock()
	}

	if g.reconnectTmr != nil {
		g.reconnectTmr.Stop()
		g.reconnectTmr = nil
	}

	g.activateLocked(conn, routeID)
	g.mu.Unlock()
}

// activateLocked must be called with mu held. It records the new active
// connection, disables outgoing routes, and arms a close watcher.
func (g *RoutesGroup) activateLocked(conn *connection.Connection, routeID string) {
	old := g.state
	g.activeConn = conn
	g.activeRouteID = routeID
	g.activeSince = time.Now()
	g.failures = 0
	g.setStateLocked(StateActive, old)
	if old == StateIdle {
		// Arm the duplicate window once, on the group's first opening.
		// Later replacements never re-arm it: per spec, once this window
		// expires, replacements are unconditional for the rest of the
		// group's life.
		g.dedup.Arm(g.Key(), "active")
	}

	if stats, ok := conn.GetPlugin("statistics"); ok {
		g.activeStats, _ = stats.(*connection.StatisticsPlugin)
	}

	for _, entry := range g.routes {
		if entry.route.Outgoing() && !entry.disabled {
			entry.route.Stop()
			entry.disabled = true
		}
	}

	g.collector.RecordConnectionOpened(0)
	if g.opts.OnConnectionOpened != nil {
		g.opts.OnConnectionOpened(g, conn)
	}

	go g.watchClose(conn, routeID)
}

func (g *RoutesGroup) watchClose(conn *connection.Connection, routeID string) {
	<-conn.Done()

	g.mu.Lock()
	if g.activeConn != conn {
		// Already superseded by a replacement or the group was torn down.
		g.mu.Unlock()
		return
	}

	var stats connection.Statistics
	if g.activeStats != nil {
		stats = g.activeStats.Snapshot()
		g.collector.RecordSent(int(stats.BytesSent))
		g.collector.RecordReceived(int(stats.BytesReceived))
	}
	g.statLog = append(g.statLog, StatEntry{RouteID: routeID, Stats: stats, ClosedAt: time.Now()})
	if len(g.statLog) > 32 {
		g.statLog = g.statLog[len(g.statLog)-32:]
	}

	g.activeConn = nil
	g.activeRouteID = ""
	g.activeStats = nil
	g.collector.RecordConnectionClosed()

	if g.opts.OnConnectionClosed != nil {
		g.opts.OnConnectionClosed(g, "connection closed")
	}

	if g.state == StateStopped {
		g.mu.Unlock()
		return
	}

	g.failures++
	delay := backoffDelay(g.opts.MinBackoff, g.opts.MaxBackoff, g.failures)
	g.setStateLocked(StateReconnecting, g.state)
	g.reconnectTmr = time.AfterFunc(delay, g.restartOutgoingRoutes)
	g.mu.Unlock()
}

func backoffDelay(minDelay, maxDelay time.Duration, failures int) time.Duration {
	d := minDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d > maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func (g *RoutesGroup) restartOutgoingRoutes() {
	g.mu.Lock()
	if g.state != StateReconnecting {
		g.mu.Unlock()
		return
	}
	g.reconnectTmr = nil
	for _, entry := range g.routes {
		if entry.route.Outgoing() && entry.disabled {
			entry.disabled = false
			_ = entry.route.Start()
		}
	}
	g.mu.Unlock()

	metrics.RoutesGroupReconnects.Inc()
	g.collector.RecordReconnectAttempt()
}

func (g *RoutesGroup) setStateLocked(new, old State) {
	if new == old {
		return
	}
	metrics.RoutesGroupsActive.WithLabelValues(old.String()).Dec()
	metrics.RoutesGroupsActive.WithLabelValues(new.String()).Inc()
	g.state = new
	if g.opts.OnStateChanged != nil {
		g.opts.OnStateChanged(g, old, new)
	}
}

// Stop tears the group down: its active connection (if any) is closed, its
// routes are stopped, and it rejects any connection routed to it afterward.
func (g *RoutesGroup) Stop() {
	g.mu.Lock()
	old := g.state
	if old == StateStopped {
		g.mu.Unlock()
		return
	}
	g.setStateLocked(StateStopped, old)
	if g.reconnectTmr != nil {
		g.reconnectTmr.Stop()
		g.reconnectTmr = nil
	}
	active := g.activeConn
	g.activeConn = nil
	routeList := make([]routes.Route, 0, len(g.routes))
	for _, entry := range g.routes {
		routeList = append(routeList, entry.route)
	}
	g.mu.Unlock()

	if active != nil {
		active.Close("stopped")
	}
	for _, r := range routeList {
		r.Stop()
	}
	g.dedup.Close()
}
