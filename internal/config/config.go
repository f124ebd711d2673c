// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bullionbook/lot-engine/internal/lot"
)

// Config holds everything cmd/server needs to start.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache; ignored without DatabaseURL
	CacheTTL    time.Duration
	Policy      lot.Policy
	Mode        lot.Mode
	MaxRetries  int
}

// Load reads the configuration using os.Getenv.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:        getenv("PORT"),
		DatabaseURL: getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL"),
		CacheTTL:    30 * time.Second,
		Policy:      lot.PriceAscending,
		Mode:        lot.Strict,
		MaxRetries:  3,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if v := getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return cfg, fmt.Errorf("CACHE_TTL: invalid duration %q", v)
		}
		cfg.CacheTTL = ttl
	}
	if v := getenv("MATCH_POLICY"); v != "" {
		p, err := lot.ParsePolicy(v)
		if err != nil {
			return cfg, fmt.Errorf("MATCH_POLICY: %w", err)
		}
		cfg.Policy = p
	}
	if v := getenv("SHORTFALL_MODE"); v != "" {
		m, err := lot.ParseMode(v)
		if err != nil {
			return cfg, fmt.Errorf("SHORTFALL_MODE: %w", err)
		}
		cfg.Mode = m
	}
	if v := getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("MAX_RETRIES: want a non-negative integer, got %q", v)
		}
		cfg.MaxRetries = n
	}
	return cfg, nil
}
