// Package config loads process configuration from the environment once at
// startup; the result is treated as immutable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full wardend/wardenctl configuration.
type Config struct {
	Addr string

	// DatabaseURL selects the postgres stores; empty means the in-memory
	// stores (tests, demos).
	DatabaseURL string

	// RedisURL enables session snapshot persistence across restarts.
	RedisURL string

	// SourcesDir holds one key=value config file per external source.
	SourcesDir string

	AnonymousLogin string

	SessionTTL    time.Duration
	AnonymousTTL  time.Duration
	SweepInterval time.Duration

	JWTSigningKey string
	TokenTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the configuration from environment variables. Malformed values
// are aggregated so the operator sees every problem at once.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getenv("WARDEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SourcesDir:     getenv("WARDEN_SOURCES_DIR", "sources"),
		AnonymousLogin: os.Getenv("WARDEN_ANONYMOUS_LOGIN"),
		JWTSigningKey:  os.Getenv("WARDEN_JWT_SIGNING_KEY"),
		KafkaTopic:     getenv("WARDEN_KAFKA_TOPIC", "warden.audit"),
	}
	if cfg.JWTSigningKey == "" {
		// Development default; override in production.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if brokers := os.Getenv("WARDEN_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var invalid []string
	cfg.SessionTTL = duration("WARDEN_SESSION_TTL", 30*time.Minute, &invalid)
	cfg.AnonymousTTL = duration("WARDEN_ANONYMOUS_TTL", 2*time.Minute, &invalid)
	cfg.SweepInterval = duration("WARDEN_SWEEP_INTERVAL", time.Minute, &invalid)
	cfg.TokenTTL = duration("WARDEN_TOKEN_TTL", time.Hour, &invalid)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration, invalid *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*invalid = append(*invalid, key)
		return fallback
	}
	return d
}
