package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the watcher daemon.
// Protocol parameters and collaborator endpoints come from the shared
// global configuration referenced by GlobalConfigPath.
type Config struct {
	ListenAddress    string   `yaml:"listen"`
	GlobalConfigPath string   `yaml:"global_config"`
	PollInterval     Duration `yaml:"poll_interval"`
	WarnWindow       Duration `yaml:"warn_window"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
	Topics           []string `yaml:"topics"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7600"
	}
	if cfg.GlobalConfigPath == "" {
		cfg.GlobalConfigPath = "./escrow.toml"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 15 * time.Second
	}
	if cfg.WarnWindow.Duration == 0 {
		cfg.WarnWindow.Duration = 6 * time.Hour
	}
	if cfg.ReconnectBackoff.Duration == 0 {
		cfg.ReconnectBackoff.Duration = 5 * time.Second
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{escrow.TopicName}
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.GlobalConfigPath) == "" {
		return fmt.Errorf("global_config must be configured")
	}
	if cfg.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.WarnWindow.Duration < 0 {
		return fmt.Errorf("warn_window must not be negative")
	}
	if cfg.ReconnectBackoff.Duration <= 0 {
		return fmt.Errorf("reconnect_backoff must be positive")
	}
	for _, topic := range cfg.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("topics must not contain blank entries")
		}
	}
	return nil
}
