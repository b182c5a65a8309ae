package config

import (
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ListenAddr string

	// NSE upstream
	NSEBaseURL        string
	NSEMaxConnections int
	NSEMaxAttempts    int
	NSERetryDelay     time.Duration
	NSETimeout        time.Duration
	CredentialMaxUses int
	CredentialMaxAge  time.Duration

	// Live feed
	PollInterval time.Duration

	// Infrastructure (both optional)
	RedisAddr        string
	RedisPassword    string
	QuoteCacheMaxAge time.Duration
	JournalPath      string

	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present; real
// environment variables win over it.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":3000"),

		NSEBaseURL:        getEnv("NSE_BASE_URL", "https://www.nseindia.com"),
		NSEMaxConnections: getInt("NSE_MAX_CONNECTIONS", 5),
		NSEMaxAttempts:    getInt("NSE_MAX_ATTEMPTS", 10),
		NSERetryDelay:     getDuration("NSE_RETRY_DELAY", 250*time.Millisecond),
		NSETimeout:        getDuration("NSE_TIMEOUT", 10*time.Second),
		CredentialMaxUses: getInt("CREDENTIAL_MAX_USES", 10),
		CredentialMaxAge:  getDuration("CREDENTIAL_MAX_AGE", 60*time.Second),

		PollInterval: getDuration("POLL_INTERVAL", 5*time.Second),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		QuoteCacheMaxAge: getDuration("QUOTE_CACHE_MAX_AGE", 2*time.Second),
		JournalPath:      getEnv("JOURNAL_PATH", ""),

		LogLevel: ParseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		log.Printf("[config] unknown LOG_LEVEL %q, using info", s)
		return slog.LevelInfo
	}
	return lvl
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("5s", "250ms") or plain seconds ("5").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
