package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 5, cfg.Relay.MaxRetryAttempts)
	require.Equal(t, 60*time.Second, cfg.Relay.RetryBackoffBase)
	require.Equal(t, 100, cfg.Relay.EventBatchSize)
	require.Equal(t, 30*time.Second, cfg.Relay.HTTPTimeout)
	require.Equal(t, 10*time.Second, cfg.Relay.PollInterval)
	require.Equal(t, 60*time.Second, cfg.Relay.RetryInterval)
	require.Equal(t, 1, cfg.Relay.DispatchConcurrency)
	require.Equal(t, cfg.DB.DSN, cfg.DB.ReadOnlyDSN)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadConfigFromYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("relay:\n  event_batch_size: 25\n  poll_interval: 3s\nserver:\n  address: 127.0.0.1:9999\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("RELAY_RELAY_MAX_RETRY_ATTEMPTS", "3")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Relay.EventBatchSize)
	require.Equal(t, 3*time.Second, cfg.Relay.PollInterval)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
	require.Equal(t, 3, cfg.Relay.MaxRetryAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	bad := cfg
	bad.Relay.EventBatchSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Vault.EncryptionKey = "too-short"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Relay.MaxRetryAttempts = 11
	require.Error(t, bad.Validate())

	bad.Relay.MaxRetryAttempts = 10
	require.NoError(t, bad.Validate())

	require.Equal(t, "relay-attempts", FormatIndex(cfg.Elastic, cfg.Elastic.Index))
}
