package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the agent daemon. Protocol
// parameters and collaborator endpoints come from the shared agent file; the
// environment only carries the daemon's own serving knobs.
type Config struct {
	ListenAddress    string
	GlobalConfigPath string
	TokenSecretFile  string
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:    getenvDefault("ESCROW_AGENTD_LISTEN", ":7500"),
		GlobalConfigPath: getenvDefault("ESCROW_AGENTD_CONFIG", "./escrow.toml"),
		TokenSecretFile:  strings.TrimSpace(os.Getenv("ESCROW_AGENTD_TOKEN_SECRET_FILE")),
		RequestTimeout:   15 * time.Second,
		MaxBodyBytes:     maxRequestBody,
	}

	if raw := strings.TrimSpace(os.Getenv("ESCROW_AGENTD_REQUEST_TIMEOUT")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ESCROW_AGENTD_REQUEST_TIMEOUT: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("ESCROW_AGENTD_REQUEST_TIMEOUT must be positive")
		}
		cfg.RequestTimeout = dur
	}

	if raw := strings.TrimSpace(os.Getenv("ESCROW_AGENTD_MAX_BODY")); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ESCROW_AGENTD_MAX_BODY: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("ESCROW_AGENTD_MAX_BODY must be positive")
		}
		cfg.MaxBodyBytes = val
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
