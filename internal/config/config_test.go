package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: "9090"
ledger:
  store: redis
  max_attempts: 5
  initial_backoff: 10ms
leaderboard:
  reconcile_interval: 30s
auth:
  secret: from-file
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Ledger.Store)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, 30*time.Second, TTLDuration(cfg.Leaderboard.ReconcileInterval, time.Minute))
	assert.Equal(t, 10*time.Millisecond, TTLDuration(cfg.Ledger.InitialBackoff, time.Second))
}

func TestLoadEnvOverridesSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTTLDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
}
