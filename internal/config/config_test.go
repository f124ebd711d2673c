package config

import (
	"testing"
	"time"

	"github.com/bullionbook/lot-engine/internal/lot"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected 30s cache TTL, got %s", cfg.CacheTTL)
	}
	if cfg.Policy != lot.PriceAscending || cfg.Mode != lot.Strict {
		t.Errorf("expected price/strict, got %s/%s", cfg.Policy, cfg.Mode)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":           "9090",
		"DATABASE_URL":   "postgres://localhost/ledger",
		"REDIS_URL":      "redis://localhost:6379/0",
		"CACHE_TTL":      "5m",
		"MATCH_POLICY":   "fifo",
		"SHORTFALL_MODE": "permissive",
		"MAX_RETRIES":    "0",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.DatabaseURL == "" || cfg.RedisURL == "" {
		t.Errorf("connection settings not read: %+v", cfg)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m, got %s", cfg.CacheTTL)
	}
	if cfg.Policy != lot.DateAscending {
		t.Errorf("expected date policy, got %s", cfg.Policy)
	}
	if cfg.Mode != lot.Permissive {
		t.Errorf("expected permissive, got %s", cfg.Mode)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected 0 retries, got %d", cfg.MaxRetries)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CACHE_TTL", "soon"},
		{"CACHE_TTL", "-1s"},
		{"MATCH_POLICY", "lifo"},
		{"SHORTFALL_MODE", "lenient"},
		{"MAX_RETRIES", "-2"},
		{"MAX_RETRIES", "many"},
	}
	for _, tt := range tests {
		if _, err := load(env(map[string]string{tt.key: tt.value})); err == nil {
			t.Errorf("%s=%q: expected error", tt.key, tt.value)
		}
	}
}
