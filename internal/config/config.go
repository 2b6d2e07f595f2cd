// Package config provides application configuration for the chat server.
//
// Configuration is loaded from environment variables with sensible defaults
// matching the reference behavior of the session, history, and broadcast
// layers. All timeouts and buffer sizes are configurable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port string

	HistoryCapacity   int
	KeepAliveInterval time.Duration
	PongTimeout       time.Duration
	MaxAuthFailures   int
	OutboundBuffer    int
	AuditWorkers      int
}

// Load reads configuration from environment variables, falling back to the
// documented defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		HistoryCapacity:   getEnvInt("CHAT_HISTORY_CAPACITY", 100),
		KeepAliveInterval: getEnvDuration("CHAT_KEEPALIVE_INTERVAL", 30*time.Second),
		PongTimeout:       getEnvDuration("CHAT_PONG_TIMEOUT", 10*time.Second),
		MaxAuthFailures:   getEnvInt("CHAT_MAX_AUTH_FAILURES", 5),
		OutboundBuffer:    getEnvInt("CHAT_OUTBOUND_BUFFER", 256),
		AuditWorkers:      getEnvInt("CHAT_AUDIT_WORKERS", 2),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every configured value is usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("CHAT_HISTORY_CAPACITY must be > 0")
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("CHAT_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.PongTimeout <= 0 {
		return fmt.Errorf("CHAT_PONG_TIMEOUT must be > 0")
	}
	if c.MaxAuthFailures <= 0 {
		return fmt.Errorf("CHAT_MAX_AUTH_FAILURES must be > 0")
	}
	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("CHAT_OUTBOUND_BUFFER must be > 0")
	}
	if c.AuditWorkers <= 0 {
		return fmt.Errorf("CHAT_AUDIT_WORKERS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
