// SPDX-License-Identifier: MIT

// Package config assembles the process configuration from the environment.
// Precedence is ENV > defaults; there is no config file.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Tier selects the deployment role of this process.
type Tier string

const (
	TierWeb    Tier = "web"
	TierWorker Tier = "worker"
)

// Config is the resolved process configuration.
type Config struct {
	Tier Tier
	Addr string // HTTP listen address

	// Backing stores
	MongoURI    string
	PostgresDSN string
	SessionDir  string // badger fallback + credential exports

	// Secrets
	SessionEncryptionKey string // 32-byte seed for at-rest credential encryption
	JWTSecret            string

	// Fleet
	MaxSessions int

	// Handover
	HandoverDelay     time.Duration
	DetectionInterval time.Duration

	// Pairing
	PairingRedisAddr string // optional shared pairing state for web tier

	LogLevel string
}

// FromEnv reads the full configuration from the environment.
func FromEnv() Config {
	return Config{
		Tier:                 Tier(ParseString("FLOCKD_TIER", string(TierWorker))),
		Addr:                 ParseString("FLOCKD_ADDR", ":8080"),
		MongoURI:             ParseString("MONGODB_URI", ""),
		PostgresDSN:          postgresDSN(),
		SessionDir:           ParseString("SESSION_DIR", "./sessions"),
		SessionEncryptionKey: ParseString("SESSION_ENCRYPTION_KEY", ""),
		JWTSecret:            ParseString("JWT_SECRET", ""),
		MaxSessions:          ParseInt("MAX_SESSIONS", 50),
		HandoverDelay:        ParseDuration("HANDOVER_DELAY", 20*time.Second),
		DetectionInterval:    ParseDuration("DETECTION_INTERVAL", 3*time.Second),
		PairingRedisAddr:     ParseString("PAIRING_REDIS_ADDR", ""),
		LogLevel:             ParseString("LOG_LEVEL", "info"),
	}
}

// postgresDSN assembles a DSN either from POSTGRES_DSN directly or from the
// discrete POSTGRES_* variables.
func postgresDSN() string {
	if dsn := ParseString("POSTGRES_DSN", ""); dsn != "" {
		return dsn
	}
	host := ParseString("POSTGRES_HOST", "")
	if host == "" {
		return ""
	}
	port := ParseInt("POSTGRES_PORT", 5432)
	user := ParseString("POSTGRES_USER", "postgres")
	password := ParseString("POSTGRES_PASSWORD", "")
	db := ParseString("POSTGRES_DB", "flockd")
	sslmode := ParseString("POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, db, sslmode)
}

// Validate checks invariants that would otherwise surface as late runtime
// failures.
func (c Config) Validate() error {
	switch c.Tier {
	case TierWeb, TierWorker:
	default:
		return fmt.Errorf("FLOCKD_TIER must be %q or %q, got %q", TierWeb, TierWorker, c.Tier)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0, got %d", c.MaxSessions)
	}
	if c.SessionEncryptionKey == "" {
		return errors.New("SESSION_ENCRYPTION_KEY must be set")
	}
	if c.Tier == TierWeb && c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set for the web tier")
	}
	if c.MongoURI == "" && c.PostgresDSN == "" {
		return errors.New("at least one of MONGODB_URI or POSTGRES_* must be set")
	}
	if c.HandoverDelay <= 0 {
		return fmt.Errorf("HANDOVER_DELAY must be > 0, got %v", c.HandoverDelay)
	}
	if c.DetectionInterval <= 0 {
		return fmt.Errorf("DETECTION_INTERVAL must be > 0, got %v", c.DetectionInterval)
	}
	return nil
}
