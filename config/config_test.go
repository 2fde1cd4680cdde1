package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `environment: staging
relay:
  endpoint: "wss://relay.example.com/v1"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "wss://relay.example.com/v1", cfg.Relay.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.CoalesceWindow)
	assert.Equal(t, 5, cfg.Sync.QuarantineAfter)
	assert.Equal(t, 30*24*time.Hour, cfg.Epoch.RotationInterval)
	assert.Equal(t, defaultPaddingBuckets, cfg.Padding.Buckets)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadFromFileWithEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_RELAY_ENDPOINT", "wss://test-relay.example.com")
	defer os.Unsetenv("TEST_RELAY_ENDPOINT")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `relay:
  endpoint: "${TEST_RELAY_ENDPOINT}"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "wss://test-relay.example.com", cfg.Relay.Endpoint)
}

func TestLoadFromFileRejectsMissingPath(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveToFileRoundTripsYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.yaml")

	cfg := &Config{Environment: "production", Relay: RelayConfig{Endpoint: "wss://relay.example.com"}}
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, "wss://relay.example.com", loaded.Relay.Endpoint)
}

func TestSaveToFileRoundTripsJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.json")

	cfg := &Config{Environment: "production", Relay: RelayConfig{Endpoint: "wss://relay.example.com"}}
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, "wss://relay.example.com", loaded.Relay.Endpoint)
}

func TestValidateRejectsMissingRelayEndpoint(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "memory"}, Logging: LoggingConfig{Level: "info"}, Sync: SyncConfig{QuarantineAfter: 5}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.endpoint is required")
}

func TestValidateRejectsPostgresDriverWithoutDSN(t *testing.T) {
	cfg := &Config{
		Relay:   RelayConfig{Endpoint: "wss://relay.example.com"},
		Store:   StoreConfig{Driver: "postgres"},
		Logging: LoggingConfig{Level: "info"},
		Sync:    SyncConfig{QuarantineAfter: 5},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.postgres_dsn is required")
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := &Config{
		Relay:   RelayConfig{Endpoint: "wss://relay.example.com"},
		Store:   StoreConfig{Driver: "memory"},
		Logging: LoggingConfig{Level: "verbose"},
		Sync:    SyncConfig{QuarantineAfter: 5},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Relay:   RelayConfig{Endpoint: "wss://relay.example.com"},
		Store:   StoreConfig{Driver: "postgres", PostgresDSN: "postgres://localhost/syncengine"},
		Logging: LoggingConfig{Level: "info"},
		Sync:    SyncConfig{QuarantineAfter: 5},
	}
	assert.NoError(t, Validate(cfg))
}
