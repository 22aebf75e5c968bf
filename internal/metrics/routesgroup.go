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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutesGroupsActive tracks the number of RoutesGroup entries currently
	// held in the ConnectionRoutesGroupMap, labeled by state.
	RoutesGroupsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routesgroup",
			Name:      "groups_active",
			Help:      "Number of routes groups currently tracked, by state",
		},
		[]string{"state"}, // idle, active, reconnecting, stopped
	)

	// RoutesGroupReconnects tracks reconnect attempts scheduled by backoff.
	RoutesGroupReconnects = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routesgroup",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts scheduled across all routes groups",
		},
	)

	// RoutesGroupDuplicatesDropped tracks duplicate connections dropped
	// inside the duplicate-suppression window.
	RoutesGroupDuplicatesDropped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routesgroup",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of duplicate connections dropped within the suppression window",
		},
	)

	// RoutesGroupCatchAllPromotions tracks unknown connections promoted
	// into a catch-all group.
	RoutesGroupCatchAllPromotions = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routesgroup",
			Name:      "catch_all_promotions_total",
			Help:      "Total number of unknown connections promoted into a catch-all group",
		},
	)
)
