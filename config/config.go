package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultTemplate = `# Escrow agent configuration.

# NetworkName labels log lines and export artefacts.
NetworkName = "escrow-local"
# DataDir holds the header cache and audit exports.
DataDir = "./escrow-data"

[protocol]
# PlatformKey is the arbitration public key (33-byte compressed, hex).
# Required before any agent can run.
PlatformKey = ""
# MinBondBps is the minimum bid bond in basis points of the bid amount.
MinBondBps = 500
# DisputeWindowSecs bounds how long after completion a dispute may be raised.
DisputeWindowSecs = 604800
# UnwindDelaySecs is the wait before an idle accepted bid can be unwound.
UnwindDelaySecs = 86400
# CompletionGraceSecs extends the work deadline before stalling disputes.
CompletionGraceSecs = 86400
# MaxDescriptionBytes caps work descriptions, plans, reports and notes.
MaxDescriptionBytes = 4096
# FeeRateSatPerKB is the mining fee hint passed to the wallet.
FeeRateSatPerKB = 50
# UnwindPolicy is "reopen" or "cancel".
UnwindPolicy = "reopen"

[services]
WalletRPC = "http://127.0.0.1:3321"
Broadcast = "http://127.0.0.1:9090"
Lookup = "http://127.0.0.1:8080"
Headers = "http://127.0.0.1:8090"

[auth]
# Leave TokenSecret empty to call the services unauthenticated.
TokenSecret = ""
TokenIssuer = "escrow-agent"
TokenAudience = "escrow-services"
TokenTTLSecs = 900
`

// Load loads the configuration from the given path, writing a commented
// default file first when none exists. Unknown keys are an error so typos
// never silently fall back to defaults.
func Load(path string) (*Global, error) {
	cfg := &Global{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Global) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(cfg.Protocol.UnwindPolicy) == "" {
		cfg.Protocol.UnwindPolicy = "reopen"
	}
	if cfg.Protocol.MaxDescriptionBytes == 0 {
		cfg.Protocol.MaxDescriptionBytes = 4096
	}
	if cfg.Protocol.FeeRateSatPerKB == 0 {
		cfg.Protocol.FeeRateSatPerKB = 50
	}
	if cfg.Auth.TokenTTLSecs == 0 {
		cfg.Auth.TokenTTLSecs = 900
	}
}

// createDefault writes the commented default configuration and returns it.
func createDefault(path string) (*Global, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return nil, err
	}

	cfg := &Global{}
	if _, err := toml.Decode(defaultTemplate, cfg); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}
