// Package config loads the gateway configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration.
type Config struct {
	Listen            string   `yaml:"listen"`
	Tokens            []string `yaml:"tokens"`
	BufferCapacity    int      `yaml:"buffer_capacity"`
	StorePath         string   `yaml:"store_path"`
	DeviceName        string   `yaml:"device_name"`
	WebhookTimeoutSec int      `yaml:"webhook_timeout_sec"`
	MaxMediaMB        int      `yaml:"max_media_mb"`
	AuditDB           string   `yaml:"audit_db"`
	LogLevel          string   `yaml:"log_level"`
}

// DefaultConfig returns sane defaults. Tokens has no default: the operator
// must supply at least one access token.
func DefaultConfig() *Config {
	return &Config{
		Listen:            ":3001",
		BufferCapacity:    50,
		StorePath:         "data/wagate.db",
		DeviceName:        "wagate",
		WebhookTimeoutSec: 10,
		MaxMediaMB:        16,
		LogLevel:          "info",
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one access token is required")
	}
	for i, tok := range c.Tokens {
		if tok == "" {
			return fmt.Errorf("token[%d]: must not be empty", i)
		}
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be > 0")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.WebhookTimeoutSec <= 0 {
		return fmt.Errorf("webhook_timeout_sec must be > 0")
	}
	if c.MaxMediaMB <= 0 {
		return fmt.Errorf("max_media_mb must be > 0")
	}
	return nil
}

// WebhookTimeout returns the per-delivery webhook timeout.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSec) * time.Second
}

// MaxMediaBytes returns the media fetch cap in bytes.
func (c *Config) MaxMediaBytes() int64 { return int64(c.MaxMediaMB) * 1024 * 1024 }
