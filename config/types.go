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

// Package config provides configuration management for the connection
// substrate: the rendezvous broker, routes, the routes-group manager, and
// the ambient logging/metrics/health surfaces.
package config

import "time"

// Config is the root configuration structure, loadable from YAML or JSON
// and overridable through ONE_CONNECT_* environment variables.
type Config struct {
	Environment string             `yaml:"environment" json:"environment"`
	Identity    *IdentityConfig    `yaml:"identity" json:"identity"`
	Broker      *BrokerConfig      `yaml:"broker" json:"broker"`
	Handshake   *HandshakeConfig   `yaml:"handshake" json:"handshake"`
	RoutesGroup *RoutesGroupConfig `yaml:"routes_group" json:"routes_group"`
	Logging     *LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
}

// IdentityConfig locates the identity files consumed by route constructors
// (spec §6: a plaintext *.id.json plus its *_secret.id.json counterpart).
type IdentityConfig struct {
	IdentityFile string `yaml:"identity_file" json:"identity_file"`
	SecretFile   string `yaml:"secret_file" json:"secret_file"`
}

// BrokerConfig configures the rendezvous broker (spec §4.6, §6 CLI surface).
type BrokerConfig struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
	SpareQueueSize int           `yaml:"spare_queue_size" json:"spare_queue_size"`
	Log            bool          `yaml:"log" json:"log"`
	Debug          bool          `yaml:"debug" json:"debug"`
}

// HandshakeConfig configures the handshake protocol (spec §4.5).
type HandshakeConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`
}

// RoutesGroupConfig configures the routes-group manager (spec §4.8) and the
// promise plugin's queue bound (spec §4.4).
type RoutesGroupConfig struct {
	DropDuplicates     bool          `yaml:"drop_duplicates" json:"drop_duplicates"`
	DuplicateWindow    time.Duration `yaml:"duplicate_window" json:"duplicate_window"`
	ReconnectMinDelay  time.Duration `yaml:"reconnect_min_delay" json:"reconnect_min_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	PromiseQueueSize   int           `yaml:"promise_queue_size" json:"promise_queue_size"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check endpoint configuration.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}
