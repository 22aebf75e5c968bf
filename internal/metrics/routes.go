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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RouteDialAttempts counts OutgoingDial attempts, labeled by outcome.
	RouteDialAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "dial_attempts_total",
			Help:      "Total number of OutgoingDial attempts, by outcome",
		},
		[]string{"outcome"}, // success, dial_error, handshake_error
	)

	// RouteDialBackoff observes the backoff delay chosen before a dial retry.
	RouteDialBackoff = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "dial_backoff_seconds",
			Help:      "Backoff delay chosen before retrying a failed OutgoingDial",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 60},
		},
	)

	// RouteAccepts counts inbound connections accepted by IncomingDirect or
	// IncomingViaBroker, labeled by route kind and outcome.
	RouteAccepts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "accepts_total",
			Help:      "Total number of inbound sockets accepted by a route, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: direct, broker; outcome: success, handshake_error, and for broker also dial_error, register_error, parked_closed, protocol_error
	)

	// RoutesActive tracks how many routes are currently started, by type.
	RoutesActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "active",
			Help:      "Number of routes currently started, by type",
		},
		[]string{"type"}, // direct, broker, dial
	)
)
