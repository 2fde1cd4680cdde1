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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadPrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "staging.yaml", "relay:\n  endpoint: \"wss://staging.example.com\"\n")
	writeConfigFile(t, dir, "default.yaml", "relay:\n  endpoint: \"wss://default.example.com\"\n")

	cfg, err := Load(WithConfigDir(dir), WithEnvironment("staging"))
	require.NoError(t, err)
	assert.Equal(t, "wss://staging.example.com", cfg.Relay.Endpoint)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestLoadFallsBackToDefaultYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "relay:\n  endpoint: \"wss://default.example.com\"\n")

	cfg, err := Load(WithConfigDir(dir), WithEnvironment("production"))
	require.NoError(t, err)
	assert.Equal(t, "wss://default.example.com", cfg.Relay.Endpoint)
}

func TestLoadFallsBackToConfigYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", "relay:\n  endpoint: \"wss://legacy.example.com\"\n")

	cfg, err := Load(WithConfigDir(dir), WithEnvironment("production"))
	require.NoError(t, err)
	assert.Equal(t, "wss://legacy.example.com", cfg.Relay.Endpoint)
}

func TestLoadWithNoFilesReturnsDefaultedEmptyConfigAndFailsValidation(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(WithConfigDir(dir), WithEnvironment("production"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.endpoint is required")
}

func TestLoadWithSkipValidationAllowsIncompleteConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(WithConfigDir(dir), WithEnvironment("production"), WithSkipValidation())
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoadAppliesEnvironmentOverrideOverFileValue(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "relay:\n  endpoint: \"wss://from-file.example.com\"\n")

	os.Setenv("SYNCENGINE_RELAY_ENDPOINT", "wss://from-env.example.com")
	defer os.Unsetenv("SYNCENGINE_RELAY_ENDPOINT")

	cfg, err := Load(WithConfigDir(dir), WithEnvironment("production"))
	require.NoError(t, err)
	assert.Equal(t, "wss://from-env.example.com", cfg.Relay.Endpoint)
}

func TestLoadForEnvironment(t *testing.T) {
	dir := t.TempDir()

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)
	require.NoError(t, os.Mkdir("config", 0755))
	writeConfigFile(t, "config", "production.yaml", "relay:\n  endpoint: \"wss://prod.example.com\"\n")

	cfg, err := LoadForEnvironment("production")
	require.NoError(t, err)
	assert.Equal(t, "wss://prod.example.com", cfg.Relay.Endpoint)
}

func TestMustLoadPanicsOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	assert.Panics(t, func() {
		MustLoad(WithConfigDir(dir), WithEnvironment("production"))
	})
}

func TestWithDotEnvFileLoadsMissingFileWithoutError(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "relay:\n  endpoint: \"wss://relay.example.com\"\n")

	cfg, err := Load(WithConfigDir(dir), WithEnvironment("production"), WithDotEnvFile(filepath.Join(dir, "nonexistent.env")))
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com", cfg.Relay.Endpoint)
}
