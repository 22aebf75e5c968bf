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

package routesgroup

import (
	"fmt"
	"strings"
	"sync"

	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

// AnyRemoteKey is the sentinel remote public key (its zero value) that
// identifies a catch-all group: one willing to accept a connection from any
// remote identity under a given local key, for a given group name.
var AnyRemoteKey cryptoapi.PublicKey

// OnUnknownConnection is consulted when a connection arrives for a remote
// key with no exact-match group, and a catch-all group exists for its local
// key and group name. Returning true promotes the connection into a brand
// new concrete group (cloned from the catch-all's options, minus the
// catch-all callback itself); returning false closes the connection.
type OnUnknownConnection func(local, remote cryptoapi.PublicKey, groupName string) bool

// Manager owns the three-level map from (local key, remote key, group
// name) to RoutesGroup, implementing "group selection on connect": an
// incoming tuple is routed to its exact-match group if one exists, else to
// a catch-all group registered for AnyRemoteKey, else the connection is
// closed with reason "no group".
type Manager struct {
	mu     sync.Mutex
	groups map[cryptoapi.PublicKey]map[cryptoapi.PublicKey]map[string]*RoutesGroup

	onUnknown OnUnknownConnection
	log       logger.Logger
}

// NewManager constructs an empty manager. onUnknown may be nil, in which
// case catch-all groups never promote - every non-exact-match connection
// simply routes into the catch-all group itself.
func NewManager(onUnknown OnUnknownConnection, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Manager{
		groups:    make(map[cryptoapi.PublicKey]map[cryptoapi.PublicKey]map[string]*RoutesGroup),
		onUnknown: onUnknown,
		log:       log,
	}
}

// AddGroup registers a concrete group for an exact (local, remote, name)
// triple and returns it.
func (m *Manager) AddGroup(local, remote cryptoapi.PublicKey, name string, opts GroupOptions) *RoutesGroup {
	return m.addGroup(local, remote, name, false, opts)
}

// AddCatchAllGroup registers a group that accepts connections from any
// remote key under (local, name) that has no exact-match group of its own.
func (m *Manager) AddCatchAllGroup(local cryptoapi.PublicKey, name string, opts GroupOptions) *RoutesGroup {
	return m.addGroup(local, AnyRemoteKey, name, true, opts)
}

func (m *Manager) addGroup(local, remote cryptoapi.PublicKey, name string, catchAll bool, opts GroupOptions) *RoutesGroup {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRemote, ok := m.groups[local]
	if !ok {
		byRemote = make(map[cryptoapi.PublicKey]map[string]*RoutesGroup)
		m.groups[local] = byRemote
	}
	byName, ok := byRemote[remote]
	if !ok {
		byName = make(map[string]*RoutesGroup)
		byRemote[remote] = byName
	}
	if existing, ok := byName[name]; ok {
		return existing
	}

	g := newRoutesGroup(local, remote, name, catchAll, opts)
	byName[name] = g
	return g
}

// Group looks up an existing group by its exact key, without falling back
// to a catch-all.
func (m *Manager) Group(local, remote cryptoapi.PublicKey, name string) (*RoutesGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRemote, ok := m.groups[local]
	if !ok {
		return nil, false
	}
	byName, ok := byRemote[remote]
	if !ok {
		return nil, false
	}
	g, ok := byName[name]
	return g, ok
}

// RemoveGroup stops and forgets a group, collapsing now-empty parent maps
// so the three-level map never accumulates empty entries.
func (m *Manager) RemoveGroup(local, remote cryptoapi.PublicKey, name string) {
	m.mu.Lock()
	byRemote, ok := m.groups[local]
	if !ok {
		m.mu.Unlock()
		return
	}
	byName, ok := byRemote[remote]
	if !ok {
		m.mu.Unlock()
		return
	}
	g, ok := byName[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(byName, name)
	if len(byName) == 0 {
		delete(byRemote, remote)
	}
	if len(byRemote) == 0 {
		delete(m.groups, local)
	}
	m.mu.Unlock()

	g.Stop()
	metrics.RoutesGroupsActive.WithLabelValues(StateStopped.String()).Dec()
}

// HandleConnection is the single entrypoint every Route's OnConnect should
// ultimately call. It implements group selection on connect: exact-match
// group, else catch-all group (promoted to a new concrete group when
// onUnknown accepts it, closed with reason "no group" when onUnknown
// rejects it), else the connection is closed with reason "no group".
func (m *Manager) HandleConnection(local, remote cryptoapi.PublicKey, groupName string, conn *connection.Connection, routeID string) {
	if g, ok := m.Group(local, remote, groupName); ok {
		g.connect(conn, routeID)
		return
	}

	catchAll, ok := m.Group(local, AnyRemoteKey, groupName)
	if !ok {
		conn.Close(connection.CloseReasonNoGroup)
		return
	}

	if m.onUnknown == nil {
		catchAll.connect(conn, routeID)
		return
	}
	if !m.onUnknown(local, remote, groupName) {
		conn.Close(connection.CloseReasonNoGroup)
		return
	}

	metrics.RoutesGroupCatchAllPromotions.Inc()
	promoted := m.AddGroup(local, remote, groupName, catchAll.opts)
	promoted.connect(conn, routeID)
}

// DebugDump renders a human-readable snapshot of every tracked group, for
// diagnostics endpoints and CLI tooling.
func (m *Manager) DebugDump() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for local, byRemote := range m.groups {
		for remote, byName := range byRemote {
			for name, g := range byName {
				g.mu.Lock()
				state := g.state
				activeRoute := g.activeRouteID
				numRoutes := len(g.routes)
				g.mu.Unlock()
				remoteLabel := fmt.Sprintf("%x", remote.Bytes())
				if remote == AnyRemoteKey {
					remoteLabel = "*"
				}
				fmt.Fprintf(&b, "local=%x remote=%s group=%q state=%s routes=%d active=%q\n",
					local.Bytes(), remoteLabel, name, state, numRoutes, activeRoute)
			}
		}
	}
	return b.String()
}
