// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Tier != TierWorker {
		t.Errorf("default tier = %q, want %q", cfg.Tier, TierWorker)
	}
	if cfg.MaxSessions != 50 {
		t.Errorf("default MaxSessions = %d, want 50", cfg.MaxSessions)
	}
	if cfg.HandoverDelay != 20*time.Second {
		t.Errorf("default HandoverDelay = %v, want 20s", cfg.HandoverDelay)
	}
	if cfg.DetectionInterval != 3*time.Second {
		t.Errorf("default DetectionInterval = %v, want 3s", cfg.DetectionInterval)
	}
}

func TestParseIntInvalid(t *testing.T) {
	t.Setenv("FLOCKD_TEST_INT", "not-a-number")
	if got := ParseInt("FLOCKD_TEST_INT", 7); got != 7 {
		t.Errorf("ParseInt = %d, want default 7", got)
	}
}

func TestParseDuration(t *testing.T) {
	t.Setenv("FLOCKD_TEST_DUR", "90s")
	if got := ParseDuration("FLOCKD_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("ParseDuration = %v, want 90s", got)
	}
}

func TestPostgresDSNFromParts(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "flock")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("POSTGRES_DB", "sessions")

	dsn := postgresDSN()
	want := "host=db.internal port=5433 user=flock password=s3cret dbname=sessions sslmode=disable"
	if dsn != want {
		t.Errorf("postgresDSN() = %q, want %q", dsn, want)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Tier:                 TierWorker,
		MaxSessions:          10,
		SessionEncryptionKey: "0123456789abcdef0123456789abcdef",
		MongoURI:             "mongodb://localhost:27017",
		HandoverDelay:        20 * time.Second,
		DetectionInterval:    3 * time.Second,
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad tier", func(c *Config) { c.Tier = "edge" }},
		{"zero sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"missing key", func(c *Config) { c.SessionEncryptionKey = "" }},
		{"no backing store", func(c *Config) { c.MongoURI = "" }},
		{"web tier without jwt", func(c *Config) { c.Tier = TierWeb; c.JWTSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
