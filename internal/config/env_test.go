// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		envSet       bool
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "TEST_STRING",
			defaultValue: "default",
			envValue:     "from-env",
			envSet:       true,
			want:         "from-env",
		},
		{
			name:         "environment variable not set",
			key:          "TEST_STRING_UNSET",
			defaultValue: "default",
			envSet:       false,
			want:         "default",
		},
		{
			name:         "environment variable empty string",
			key:          "TEST_STRING_EMPTY",
			defaultValue: "default",
			envValue:     "",
			envSet:       true,
			want:         "default",
		},
		{
			name:         "sensitive variable (secret)",
			key:          "TEST_SECRET",
			defaultValue: "default",
			envValue:     "shh123",
			envSet:       true,
			want:         "shh123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseString(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseString(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		envSet       bool
		want         int
	}{
		{name: "valid integer", key: "TEST_INT", defaultValue: 5, envValue: "42", envSet: true, want: 42},
		{name: "invalid integer falls back", key: "TEST_INT_BAD", defaultValue: 5, envValue: "forty-two", envSet: true, want: 5},
		{name: "unset falls back", key: "TEST_INT_UNSET", defaultValue: 5, envSet: false, want: 5},
		{name: "empty falls back", key: "TEST_INT_EMPTY", defaultValue: 5, envValue: "", envSet: true, want: 5},
		{name: "negative", key: "TEST_INT_NEG", defaultValue: 5, envValue: "-3", envSet: true, want: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseInt(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseInt(%q, %d) = %d, want %d", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		envSet       bool
		want         time.Duration
	}{
		{name: "valid duration", key: "TEST_DUR", defaultValue: time.Second, envValue: "250ms", envSet: true, want: 250 * time.Millisecond},
		{name: "invalid duration falls back", key: "TEST_DUR_BAD", defaultValue: time.Second, envValue: "soon", envSet: true, want: time.Second},
		{name: "bare number falls back", key: "TEST_DUR_BARE", defaultValue: time.Second, envValue: "5", envSet: true, want: time.Second},
		{name: "unset falls back", key: "TEST_DUR_UNSET", defaultValue: time.Second, envSet: false, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseDuration(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseDuration(%q, %v) = %v, want %v", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		envSet       bool
		want         bool
	}{
		{name: "true", key: "TEST_BOOL_T", defaultValue: false, envValue: "true", envSet: true, want: true},
		{name: "yes", key: "TEST_BOOL_Y", defaultValue: false, envValue: "YES", envSet: true, want: true},
		{name: "zero", key: "TEST_BOOL_0", defaultValue: true, envValue: "0", envSet: true, want: false},
		{name: "garbage falls back", key: "TEST_BOOL_BAD", defaultValue: true, envValue: "maybe", envSet: true, want: true},
		{name: "unset falls back", key: "TEST_BOOL_UNSET", defaultValue: true, envSet: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseBool(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBool(%q, %v) = %v, want %v", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestFromEnvDefaultsValidate(t *testing.T) {
	t.Setenv("PLAYQ_USER_ID", "bot-1")
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("unexpected default listen addr %q", cfg.ListenAddr)
	}
	if cfg.StoreDriver != "badger" {
		t.Errorf("unexpected default store driver %q", cfg.StoreDriver)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		t.Setenv("PLAYQ_USER_ID", "bot-1")
		return FromEnv()
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing user id", func(c *Config) { c.UserID = "" }},
		{"unknown driver", func(c *Config) { c.StoreDriver = "etcd" }},
		{"empty store path", func(c *Config) { c.StorePath = "" }},
		{"empty nodes file", func(c *Config) { c.NodesFile = "" }},
		{"zero retry attempts", func(c *Config) { c.RetryMaxAttempts = 0 }},
		{"negative TTL above positive", func(c *Config) { c.AllowlistNegativeTTL = 2 * c.AllowlistPositiveTTL }},
		{"unknown otel protocol", func(c *Config) { c.OTELProtocol = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
