package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: sso\n")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	require.Equal(t, "sso", cfg.App.Name)
	require.Equal(t, "redis", cfg.Events.Driver)
	require.Equal(t, "session:events", cfg.Events.Channel)
	require.Equal(t, 15*time.Minute, cfg.Security.AccessTTL())
	require.Equal(t, 168*time.Hour, cfg.Security.RefreshTTL())
	require.Equal(t, 24*time.Hour, cfg.Session.TTL())
	require.Equal(t, 5, cfg.Session.MaxConcurrentSessions)
	require.Equal(t, 15*time.Minute, cfg.Login.Window())
	require.Equal(t, 5, cfg.Login.MaxAccountFailures)
	require.Equal(t, 30*time.Minute, cfg.Login.LockoutDuration())
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "redis:\n  url: localhost:6379\nsecurity:\n  jwt-key: file-key\n")

	t.Setenv("REDIS_URL", "redis.internal:6380")
	t.Setenv("JWT_KEY", "env-key")
	t.Setenv("EVENTS_DRIVER", "rabbitmq")
	t.Setenv("REQUIRE_EMAIL_VERIFICATION", "true")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	require.Equal(t, "redis.internal:6380", cfg.Redis.Url)
	require.Equal(t, "env-key", cfg.Security.JwtKey)
	require.Equal(t, "rabbitmq", cfg.Events.Driver)
	require.True(t, cfg.Security.RequireEmailVerification)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
