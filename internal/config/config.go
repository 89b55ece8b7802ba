// SPDX-License-Identifier: MIT

// Package config assembles the daemon configuration from environment
// variables and the node roster file, and keeps the roster hot-reloadable.
package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration. Everything except the node roster
// comes from PLAYQ_* environment variables and is fixed for the process
// lifetime; the roster lives in a YAML file and reloads on change.
type Config struct {
	// ListenAddr is the HTTP bind address for the command and admin API.
	ListenAddr string
	// AdminToken guards the allowlist admin endpoints. Empty disables them.
	AdminToken string

	// StoreDriver selects the queue backend: "badger", "sqlite" or "memory".
	StoreDriver string
	// StorePath is the badger directory or sqlite file.
	StorePath string

	// RedisAddr enables the redis allowlist cache when non-empty.
	RedisAddr     string
	RedisPassword string
	// AllowlistPositiveTTL caches grants; AllowlistNegativeTTL caches
	// denials briefly so a store outage cannot pin a tenant out.
	AllowlistPositiveTTL time.Duration
	AllowlistNegativeTTL time.Duration

	// NodesFile is the YAML roster of audio nodes.
	NodesFile string
	// UserID and ClientName identify this process to the nodes.
	UserID     string
	ClientName string

	// Command retry policy.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Node reconnect backoff. Attempts are unbounded; the cap matters.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// RateLimitPerMinute caps command requests per tenant. 0 disables.
	RateLimitPerMinute int

	// OTLP trace export. Protocol is "grpc" or "http".
	OTELEnabled  bool
	OTELEndpoint string
	OTELProtocol string
}

// FromEnv reads the configuration from PLAYQ_* environment variables,
// applying defaults for everything not set.
func FromEnv() Config {
	return Config{
		ListenAddr: ParseString("PLAYQ_LISTEN", ":8080"),
		AdminToken: ParseString("PLAYQ_ADMIN_TOKEN", ""),

		StoreDriver: ParseString("PLAYQ_STORE_DRIVER", "badger"),
		StorePath:   ParseString("PLAYQ_STORE_PATH", "./data/queue"),

		RedisAddr:            ParseString("PLAYQ_REDIS_ADDR", ""),
		RedisPassword:        ParseString("PLAYQ_REDIS_PASSWORD", ""),
		AllowlistPositiveTTL: ParseDuration("PLAYQ_ALLOWLIST_TTL", time.Minute),
		AllowlistNegativeTTL: ParseDuration("PLAYQ_ALLOWLIST_NEGATIVE_TTL", 5*time.Second),

		NodesFile:  ParseString("PLAYQ_NODES_FILE", "./nodes.yaml"),
		UserID:     ParseString("PLAYQ_USER_ID", ""),
		ClientName: ParseString("PLAYQ_CLIENT_NAME", "playq"),

		RetryMaxAttempts: ParseInt("PLAYQ_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   ParseDuration("PLAYQ_RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryMaxDelay:    ParseDuration("PLAYQ_RETRY_MAX_DELAY", 2*time.Second),

		ReconnectBaseDelay: ParseDuration("PLAYQ_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:  ParseDuration("PLAYQ_RECONNECT_MAX_DELAY", 30*time.Second),

		RateLimitPerMinute: ParseInt("PLAYQ_RATE_LIMIT_PER_MINUTE", 60),

		OTELEnabled:  ParseBool("PLAYQ_OTEL_ENABLED", false),
		OTELEndpoint: ParseString("PLAYQ_OTEL_ENDPOINT", "localhost:4317"),
		OTELProtocol: ParseString("PLAYQ_OTEL_PROTOCOL", "grpc"),
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.StoreDriver {
	case "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && c.StorePath == "" {
		return fmt.Errorf("store path must be set for driver %q", c.StoreDriver)
	}
	if c.NodesFile == "" {
		return fmt.Errorf("nodes file must not be empty")
	}
	if c.UserID == "" {
		return fmt.Errorf("PLAYQ_USER_ID must be set, nodes reject anonymous clients")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1 (got %d)", c.RetryMaxAttempts)
	}
	if c.AllowlistNegativeTTL > c.AllowlistPositiveTTL {
		return fmt.Errorf("negative allowlist TTL must not exceed the positive TTL")
	}
	switch c.OTELProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown OTLP protocol %q", c.OTELProtocol)
	}
	return nil
}
