package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validHubYAML = `
api:
  port: 9090
database:
  path: /tmp/hub.db
security:
  admin_api_key: admin
  admin_secret: "0123456789abcdef0123456789abcdef"
  master_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
  token_secret: "fedcba9876543210fedcba9876543210"
`

const validRelayYAML = `
state_dir: /tmp/relay
cloud:
  base_url: https://hub.example.com
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadHub(t *testing.T) {
	cfg, err := LoadHub(writeConfig(t, validHubYAML))
	if err != nil {
		t.Fatalf("LoadHub: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.API.Port)
	}
	// Defaults survive partial files.
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("host default: got %q", cfg.API.Host)
	}
	if !cfg.Database.WALMode {
		t.Error("wal_mode default should be true")
	}
}

func TestLoadHubEnvOverride(t *testing.T) {
	t.Setenv("IMAGINARY_DATABASE_PATH", "/override/hub.db")
	cfg, err := LoadHub(writeConfig(t, validHubYAML))
	if err != nil {
		t.Fatalf("LoadHub: %v", err)
	}
	if cfg.Database.Path != "/override/hub.db" {
		t.Errorf("env override ignored: %q", cfg.Database.Path)
	}
}

func TestLoadHubValidation(t *testing.T) {
	missingKey := strings.Replace(validHubYAML, "admin_api_key: admin", "admin_api_key: \"\"", 1)
	if _, err := LoadHub(writeConfig(t, missingKey)); err == nil {
		t.Fatal("expected validation error for missing admin api key")
	}

	shortSecret := strings.Replace(validHubYAML,
		`admin_secret: "0123456789abcdef0123456789abcdef"`, `admin_secret: short`, 1)
	if _, err := LoadHub(writeConfig(t, shortSecret)); err == nil {
		t.Fatal("expected validation error for short admin secret")
	}
}

func TestLoadRelay(t *testing.T) {
	cfg, err := LoadRelay(writeConfig(t, validRelayYAML))
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if cfg.Cloud.BaseURL != "https://hub.example.com" {
		t.Errorf("base url: %q", cfg.Cloud.BaseURL)
	}
	if cfg.Executor.MaxConcurrent != 8 {
		t.Errorf("max_concurrent default: %d", cfg.Executor.MaxConcurrent)
	}
	if cfg.Cloud.StatePushEvery().Seconds() != 300 {
		t.Errorf("state push interval default: %v", cfg.Cloud.StatePushEvery())
	}
}

func TestLoadRelayValidation(t *testing.T) {
	if _, err := LoadRelay(writeConfig(t, "state_dir: /tmp/x\n")); err == nil {
		t.Fatal("expected validation error for missing cloud.base_url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadHub(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
