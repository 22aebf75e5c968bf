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
	"sync"
	"time"
)

// RoutesCollector accumulates per-connection byte and timing statistics for
// a single RoutesGroup, mirroring the group's connectionStatisticsLog. It is
// a plain in-memory aggregate, separate from the Prometheus Registry, so a
// caller can fetch a single group's numbers (e.g. for a debug dump) without
// scraping the whole process.
type RoutesCollector struct {
	mu sync.RWMutex

	BytesSent       int64
	BytesReceived   int64
	ConnectionsOpened  int64
	ConnectionsClosed  int64
	ReconnectAttempts int64
	DuplicatesDropped int64

	handshakeTimes []int64 // microseconds

	startTime time.Time

	maxTimingSamples int
}

// NewRoutesCollector creates a collector with its clock started at the
// current time.
func NewRoutesCollector() *RoutesCollector {
	return &RoutesCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordSent records an outgoing frame of n bytes.
func (rc *RoutesCollector) RecordSent(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.BytesSent += int64(n)
}

// RecordReceived records an incoming frame of n bytes.
func (rc *RoutesCollector) RecordReceived(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.BytesReceived += int64(n)
}

// RecordConnectionOpened records a new active connection taking over the
// group, plus the handshake latency that produced it.
func (rc *RoutesCollector) RecordConnectionOpened(handshakeDuration time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ConnectionsOpened++
	rc.recordTiming(handshakeDuration)
}

// RecordConnectionClosed records the active connection going away.
func (rc *RoutesCollector) RecordConnectionClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ConnectionsClosed++
}

// RecordReconnectAttempt records one backoff-scheduled reconnect attempt.
func (rc *RoutesCollector) RecordReconnectAttempt() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ReconnectAttempts++
}

// RecordDuplicateDropped records a duplicate connection rejected inside the
// duplicate-suppression window.
func (rc *RoutesCollector) RecordDuplicateDropped() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.DuplicatesDropped++
}

func (rc *RoutesCollector) recordTiming(d time.Duration) {
	us := d.Microseconds()
	rc.handshakeTimes = append(rc.handshakeTimes, us)
	if len(rc.handshakeTimes) > rc.maxTimingSamples {
		rc.handshakeTimes = rc.handshakeTimes[len(rc.handshakeTimes)-rc.maxTimingSamples:]
	}
}

// Snapshot is a point-in-time copy of a RoutesCollector's counters.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	BytesSent         int64
	BytesReceived     int64
	ConnectionsOpened int64
	ConnectionsClosed int64
	ReconnectAttempts int64
	DuplicatesDropped int64

	AvgHandshakeMicros float64
	P95HandshakeMicros int64
}

// GetSnapshot returns the collector's current state.
func (rc *RoutesCollector) GetSnapshot() *Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return &Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(rc.startTime),
		BytesSent:          rc.BytesSent,
		BytesReceived:      rc.BytesReceived,
		ConnectionsOpened:  rc.ConnectionsOpened,
		ConnectionsClosed:  rc.ConnectionsClosed,
		ReconnectAttempts:  rc.ReconnectAttempts,
		DuplicatesDropped:  rc.DuplicatesDropped,
		AvgHandshakeMicros: calculateAverage(rc.handshakeTimes),
		P95HandshakeMicros: calculatePercentile(rc.handshakeTimes, 95),
	}
}

// Reset zeroes all counters and restarts the uptime clock.
func (rc *RoutesCollector) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.BytesSent = 0
	rc.BytesReceived = 0
	rc.ConnectionsOpened = 0
	rc.ConnectionsClosed = 0
	rc.ReconnectAttempts = 0
	rc.DuplicatesDropped = 0
	rc.handshakeTimes = nil
	rc.startTime = time.Now()
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// calculatePercentile is an approximation: nearest-rank over a sorted copy.
// Fine for a few thousand samples per group; not a true streaming quantile.
func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	return sorted[index]
}
