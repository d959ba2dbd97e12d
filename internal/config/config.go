// Package config provides application configuration.
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
	Port        string
	FrontendURL string
	DBPath      string

	// Turn execution.
	TurnTimeout  time.Duration
	SearchRegion string

	// Ephemeral session caches.
	PendingTTL  time.Duration
	DocumentTTL time.Duration

	// External services. OpenAI client settings come from OPENAI_*
	// variables read by the openai package itself.
	DocExtractEndpoint string

	// HTTP limits.
	MaxBodyBytes  int64
	RatePerMinute int
	SSEKeepalive  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/grogi.db"),
		TurnTimeout:        getEnvDuration("TURN_TIMEOUT", 120*time.Second),
		SearchRegion:       getEnv("SEARCH_REGION", "kr-kr"),
		PendingTTL:         getEnvDuration("PENDING_TTL", 10*time.Minute),
		DocumentTTL:        getEnvDuration("DOCUMENT_TTL", time.Hour),
		DocExtractEndpoint: getEnv("DOCEXT_ENDPOINT", ""),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 10<<20)),
		RatePerMinute:      getEnvInt("RATE_PER_MINUTE", 30),
		SSEKeepalive:       getEnvDuration("SSE_KEEPALIVE", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.PendingTTL <= 0 || c.DocumentTTL <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be > 0")
	}
	if c.RatePerMinute <= 0 {
		return fmt.Errorf("RATE_PER_MINUTE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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
