package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"LISTEN_ADDR", "NSE_MAX_CONNECTIONS", "POLL_INTERVAL", "REDIS_ADDR", "LOG_LEVEL", "CREDENTIAL_MAX_AGE"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "https://www.nseindia.com", cfg.NSEBaseURL)
	assert.Equal(t, 5, cfg.NSEMaxConnections)
	assert.Equal(t, 10, cfg.NSEMaxAttempts)
	assert.Equal(t, 10, cfg.CredentialMaxUses)
	assert.Equal(t, 60*time.Second, cfg.CredentialMaxAge)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":8080")
	t.Setenv("NSE_MAX_CONNECTIONS", "3")
	t.Setenv("POLL_INTERVAL", "750ms")
	t.Setenv("CREDENTIAL_MAX_AGE", "30")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.NSEMaxConnections)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.CredentialMaxAge)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("NSE_MAX_ATTEMPTS", "-2")
	t.Setenv("POLL_INTERVAL", "soon")
	cfg := Load()

	assert.Equal(t, 10, cfg.NSEMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}
