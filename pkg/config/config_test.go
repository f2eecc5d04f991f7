package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
server: ws://localhost:8099
sessionId: abc
binaryPath: /http://localhost:3000
device:
  headless: true
  defaultViewport:
    width: 390
    height: 844
synchronization:
  enabled: false
  urlBlacklist:
    - ".*analytics.*"
  trackTimers: true
matcher:
  timeoutMs: 1500
permissions:
  camera: YES
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server != "ws://localhost:8099" || cfg.SessionID != "abc" {
		t.Errorf("unexpected connection settings: %q %q", cfg.Server, cfg.SessionID)
	}
	if cfg.AppURL() != "http://localhost:3000" {
		t.Errorf("AppURL() = %q", cfg.AppURL())
	}
	if !cfg.Device.Headless {
		t.Error("expected headless")
	}
	if cfg.Device.DefaultViewport != (Viewport{Width: 390, Height: 844}) {
		t.Errorf("unexpected viewport %+v", cfg.Device.DefaultViewport)
	}
	if cfg.Synchronization.IsEnabled() {
		t.Error("expected synchronization disabled")
	}
	if len(cfg.Synchronization.URLBlacklist) != 1 || !cfg.Synchronization.TrackTimers {
		t.Errorf("unexpected synchronization %+v", cfg.Synchronization)
	}
	if cfg.Matcher.TimeoutMs != 1500 {
		t.Errorf("expected timeoutMs 1500, got %d", cfg.Matcher.TimeoutMs)
	}
	if cfg.Permissions["camera"] != "YES" {
		t.Errorf("expected camera YES, got %v", cfg.Permissions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: ws://x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.DefaultViewport != (Viewport{Width: DefaultWidth, Height: DefaultHeight}) {
		t.Errorf("expected default viewport, got %+v", cfg.Device.DefaultViewport)
	}
	if cfg.Matcher.TimeoutMs != DefaultMatcherTimeout {
		t.Errorf("expected default timeout, got %d", cfg.Matcher.TimeoutMs)
	}
	if !cfg.Synchronization.IsEnabled() {
		t.Error("synchronization should default to enabled")
	}
	if cfg.Artifacts.Dir == "" {
		t.Error("artifacts dir should default")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("device: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matcher.TimeoutMs != DefaultMatcherTimeout {
		t.Error("expected defaults when no config file exists")
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("sessionId: from-yml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionID != "from-yml" {
		t.Errorf("expected config.yml to load, got %q", cfg.SessionID)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("sessionId: from-yaml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, _ = LoadFromDir(dir)
	if cfg.SessionID != "from-yaml" {
		t.Errorf("config.yaml should take precedence, got %q", cfg.SessionID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   *core.ExecutionError
	}{
		{"valid", func(*Config) {}, nil},
		{"missing server", func(c *Config) { c.Server = "" }, core.ErrMissingRequired},
		{"http server", func(c *Config) { c.Server = "http://x" }, core.ErrInvalidConfig},
		{"missing session", func(c *Config) { c.SessionID = "" }, core.ErrMissingRequired},
		{"bad pattern", func(c *Config) { c.Synchronization.URLBlacklist = []string{"("} }, core.ErrInvalidConfig},
		{"negative timeout", func(c *Config) { c.Matcher.TimeoutMs = -1 }, core.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server = "ws://localhost:8099"
			cfg.SessionID = "s"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
