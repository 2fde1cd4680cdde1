// Copyright (C) 2025 sage-x-project
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

// Package config provides configuration management for the sync engine.
package config

import "time"

// Config is the root configuration structure, loaded from YAML with env
// var overrides layered on top.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Relay       RelayConfig    `yaml:"relay" json:"relay"`
	Sync        SyncConfig     `yaml:"sync" json:"sync"`
	Epoch       EpochConfig    `yaml:"epoch" json:"epoch"`
	Padding     PaddingConfig  `yaml:"padding" json:"padding"`
	Store       StoreConfig    `yaml:"store" json:"store"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
}

// RelayConfig points at the WebSocket relay this instance multiplexes
// push/pull/subscribe traffic through.
type RelayConfig struct {
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// SyncConfig tunes syncmanager.Manager's coalescing scheduler and
// quarantine threshold.
type SyncConfig struct {
	CoalesceWindow  time.Duration `yaml:"coalesce_window" json:"coalesce_window"`
	QuarantineAfter int           `yaml:"quarantine_after" json:"quarantine_after"`

	// EditChainCollections lists the collections that carry a signed
	// edit-chain in their envelope's h field, auditing who produced each
	// change to the CRDT view rather than just encrypting it.
	EditChainCollections []string `yaml:"edit_chain_collections" json:"edit_chain_collections"`
}

// EpochConfig governs automatic epoch rotation scheduling.
type EpochConfig struct {
	// RotationInterval is how long a space goes between opportunistic
	// rotations in the absence of a membership change forcing one.
	RotationInterval time.Duration `yaml:"rotation_interval" json:"rotation_interval"`
}

// PaddingConfig selects the bucket sizes envelopes are padded to before
// encryption. An empty Buckets disables padding.
type PaddingConfig struct {
	Buckets []int `yaml:"buckets" json:"buckets"`
}

// StoreConfig selects and configures the persisted local-state backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" json:"driver"` // memory, postgres
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// MetricsConfig controls the prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}
