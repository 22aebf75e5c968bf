// Copyright (C) 2025 refinio
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes the substrate's Prometheus registry. The
// per-subsystem metric files in this package register their collectors
// against Registry at init time via promauto.With(Registry).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "one_connect"

// Registry is the substrate-wide collector registry. Kept separate from
// prometheus.DefaultRegisterer so a process embedding this module can run
// its own metrics alongside ours without name collisions.
var Registry = prometheus.NewRegistry()
