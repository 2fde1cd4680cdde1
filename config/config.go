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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var defaultPaddingBuckets = []int{256, 1024, 4096, 16384, 65536, 262144, 1048576}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing YAML or JSON by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// setDefaults fills in zero-value fields with the engine's defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay.HandshakeTimeout == 0 {
		cfg.Relay.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Relay.ReconnectInterval == 0 {
		cfg.Relay.ReconnectInterval = 2 * time.Second
	}
	if cfg.Relay.RequestTimeout == 0 {
		cfg.Relay.RequestTimeout = 30 * time.Second
	}

	if cfg.Sync.CoalesceWindow == 0 {
		cfg.Sync.CoalesceWindow = 50 * time.Millisecond
	}
	if cfg.Sync.QuarantineAfter == 0 {
		cfg.Sync.QuarantineAfter = 5
	}

	if cfg.Epoch.RotationInterval == 0 {
		cfg.Epoch.RotationInterval = 30 * 24 * time.Hour
	}

	if cfg.Padding.Buckets == nil {
		cfg.Padding.Buckets = defaultPaddingBuckets
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// Validate checks cfg for invalid or conflicting values. Errors returned
// are joined with fmt.Errorf so the caller sees every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Relay.Endpoint == "" {
		errs = append(errs, "relay.endpoint is required")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, "store.postgres_dsn is required when store.driver is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres", cfg.Store.Driver))
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	if cfg.Sync.QuarantineAfter < 1 {
		errs = append(errs, "sync.quarantine_after must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
