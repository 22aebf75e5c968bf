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
	// BrokerListenersRegistered tracks listener registrations on the
	// rendezvous broker.
	BrokerListenersRegistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "listeners_registered_total",
			Help:      "Total number of listener connections registered with the broker",
		},
	)

	// BrokerSpareQueueDepth tracks the number of spare connections
	// currently parked per public key, sampled on change.
	BrokerSpareQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "spare_queue_depth",
			Help:      "Total spare connections currently queued across all listeners",
		},
	)

	// BrokerSplicesStarted tracks successful dialer-listener pairings.
	BrokerSplicesStarted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "splices_started_total",
			Help:      "Total number of dialer/listener pairs spliced together",
		},
	)

	// BrokerSplicesEnded tracks splice teardown by which side closed first.
	BrokerSplicesEnded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "splices_ended_total",
			Help:      "Total number of splices torn down, labeled by the side that closed first",
		},
		[]string{"closed_by"}, // listener, dialer
	)

	// BrokerDialsRejected tracks dial attempts with no matching listener.
	BrokerDialsRejected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "dials_rejected_total",
			Help:      "Total number of dial requests rejected for lack of a matching listener",
		},
	)
)
