package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	// Defaults alone are not valid: tokens must come from the operator.
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without tokens should fail validation")
	}
	cfg.Tokens = []string{"abc"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with a token should be valid: %v", err)
	}
	if cfg.WebhookTimeout() != 10*time.Second {
		t.Errorf("WebhookTimeout = %v", cfg.WebhookTimeout())
	}
	if cfg.MaxMediaBytes() != 16*1024*1024 {
		t.Errorf("MaxMediaBytes = %d", cfg.MaxMediaBytes())
	}
}

func TestLoadConfig(t *testing.T) {
	yaml := `
listen: ":9090"
tokens:
  - "ce72d1f374c8f0311f17d9765e246c24"
buffer_capacity: 100
store_path: "/tmp/wa.db"
device_name: "gateway-test"
webhook_timeout_sec: 5
audit_db: "/tmp/audit.db"
log_level: "debug"
`
	f, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString(yaml)
	f.Close()

	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.BufferCapacity != 100 {
		t.Errorf("BufferCapacity = %d", cfg.BufferCapacity)
	}
	if len(cfg.Tokens) != 1 {
		t.Errorf("Tokens len = %d", len(cfg.Tokens))
	}
	if cfg.WebhookTimeout() != 5*time.Second {
		t.Errorf("WebhookTimeout = %v", cfg.WebhookTimeout())
	}
	// Unset fields keep their defaults.
	if cfg.MaxMediaMB != 16 {
		t.Errorf("MaxMediaMB = %d, want default 16", cfg.MaxMediaMB)
	}
}

func TestValidate_EmptyToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens = []string{"good", ""}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty token")
	}
}

func TestValidate_BadCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens = []string{"t"}
	cfg.BufferCapacity = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero buffer capacity")
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/wagate.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
