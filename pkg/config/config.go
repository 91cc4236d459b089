// Package config loads server configuration from the environment, with an
// optional YAML profile for file-based deployments.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Ack signing. Either SignerSeedHex (32 bytes, hex) or MasterSecretHex
	// (any length; the seed is derived via HKDF) must be set in production;
	// both empty falls back to an ephemeral random seed.
	SignerID        string `yaml:"signer_id"`
	SignerSeedHex   string `yaml:"signer_seed_hex"`
	MasterSecretHex string `yaml:"master_secret_hex"`

	// Trust provisioning.
	TrustFixtureDir  string `yaml:"trust_fixture_dir"`
	TrustProfilePath string `yaml:"trust_profile_path"`
	RevocationPolicy string `yaml:"revocation_policy"`

	// Chain store: "memory" (default) or "redis".
	ChainBackend string `yaml:"chain_backend"`
	RedisAddr    string `yaml:"redis_addr"`

	// Processed-entry log: "file" (default), "sqlite", "postgres", or
	// "none".
	EntryLogBackend string `yaml:"entry_log_backend"`
	EntryLogPath    string `yaml:"entry_log_path"`
	DatabaseURL     string `yaml:"database_url"`

	// Observability.
	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load builds configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:             envOr("PORT", "8080"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		SignerID:         envOr("TARIC_SIGNER_ID", "server-key-1"),
		SignerSeedHex:    os.Getenv("TARIC_SIGNER_SEED"),
		MasterSecretHex:  os.Getenv("TARIC_MASTER_SECRET"),
		TrustFixtureDir:  os.Getenv("TARIC_TRUST_FIXTURES"),
		TrustProfilePath: os.Getenv("TARIC_TRUST_PROFILE"),
		RevocationPolicy: os.Getenv("TARIC_REVOCATION_POLICY"),
		ChainBackend:     envOr("TARIC_CHAIN_BACKEND", "memory"),
		RedisAddr:        envOr("TARIC_REDIS_ADDR", "localhost:6379"),
		EntryLogBackend:  envOr("TARIC_ENTRY_LOG", "file"),
		EntryLogPath:     envOr("TARIC_ENTRY_LOG_PATH", "entries.jsonl"),
		DatabaseURL:      envOr("DATABASE_URL", "postgres://taric@localhost:5432/taric?sslmode=disable"),
		OTelEnabled:      os.Getenv("TARIC_OTEL_ENABLED") == "true",
		OTLPEndpoint:     envOr("TARIC_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// LoadFile overlays a YAML profile onto the environment-derived config.
// Values present in the file win.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
