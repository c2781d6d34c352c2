// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/scheduler"
)

// Config is the validated process configuration.
type Config struct {
	DBURL            string
	RedisURL         string
	RecoverPastTasks scheduler.PastTaskPolicy
	LogLevel         slog.Level
	ListenAddr       string

	FireWorkers int
	LockTTL     time.Duration
	LockWait    time.Duration

	// Admin API rate limiting, requests per minute per client. 0 disables.
	RateLimitRPM int

	// OTLP trace export; tracing is off when the endpoint is empty.
	OTELEndpoint string
	OTELProtocol string
	OTELInsecure bool
}

// Load reads and validates the environment. DB_URL and REDIS_URL are
// required; everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		DBURL:        os.Getenv("DB_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ListenAddr:   envOr("LISTEN_ADDR", ":8000"),
		FireWorkers:  8,
		LockTTL:      scheduler.DefaultLockTTL,
		LockWait:     scheduler.DefaultLockWait,
		RateLimitRPM: 0,
		OTELEndpoint: os.Getenv("OTEL_ENDPOINT"),
		OTELProtocol: envOr("OTEL_PROTOCOL", "grpc"),
		OTELInsecure: os.Getenv("OTEL_INSECURE") == "true",
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	policy, err := scheduler.ParsePastTaskPolicy(os.Getenv("RECOVER_PAST_TASKS"))
	if err != nil {
		return nil, fmt.Errorf("RECOVER_PAST_TASKS: %w", err)
	}
	cfg.RecoverPastTasks = policy

	cfg.LogLevel, err = parseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if v := os.Getenv("FIRE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("FIRE_WORKERS: want a positive integer, got %q", v)
		}
		cfg.FireWorkers = n
	}
	if d, err := envDuration("LOCK_TTL"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.LockTTL = d
	}
	if d, err := envDuration("LOCK_WAIT"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.LockWait = d
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("RATE_LIMIT_RPM: want a non-negative integer, got %q", v)
		}
		cfg.RateLimitRPM = n
	}

	return cfg, nil
}

// SetupLogging installs a slog text handler at the configured level.
func (c *Config) SetupLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: c.LogLevel,
	})))
}

// parseLogLevel accepts a level name ("debug", "info", "warn", "error")
// or a raw slog integer. Defaults to debug.
func parseLogLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelDebug, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err == nil {
		return lvl, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n), nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
