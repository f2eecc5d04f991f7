// Package config handles configuration for web-testee.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Config represents the testee configuration (config.yaml).
type Config struct {
	// Runner connection
	Server    string `yaml:"server"`    // WebSocket URL of the test runner
	SessionID string `yaml:"sessionId"` // Session shared with the runner
	// BinaryPath is the app URL in "/<url>" form; the leading slash is dropped.
	BinaryPath string `yaml:"binaryPath"`

	Device          DeviceConfig          `yaml:"device"`
	Synchronization SynchronizationConfig `yaml:"synchronization"`
	Matcher         MatcherConfig         `yaml:"matcher"`

	// Permissions maps capability names (camera, location, ...) to values.
	Permissions map[string]string `yaml:"permissions"`

	Artifacts ArtifactsConfig `yaml:"artifacts"`
	LogFile   string          `yaml:"logFile"`
}

// DeviceConfig configures the browser acting as the device.
type DeviceConfig struct {
	Headless        bool     `yaml:"headless"`
	Devtools        bool     `yaml:"devtools"`
	BrowserPath     string   `yaml:"browserPath"`
	DefaultViewport Viewport `yaml:"defaultViewport"`
	ExtensionDir    string   `yaml:"extensionDir"` // recorder extension
}

// Viewport is a width/height pair in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SynchronizationConfig configures idle detection.
type SynchronizationConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	URLBlacklist []string `yaml:"urlBlacklist"`
	TrackTimers  bool     `yaml:"trackTimers"`
}

// IsEnabled reports whether synchronization is on (default true).
func (s SynchronizationConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// MatcherConfig configures element lookup.
type MatcherConfig struct {
	TimeoutMs int `yaml:"timeoutMs"`
}

// ArtifactsConfig configures where screenshots and videos go.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// Defaults.
const (
	DefaultWidth          = 1280
	DefaultHeight         = 720
	DefaultMatcherTimeout = 200
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Device.DefaultViewport.Width == 0 {
		c.Device.DefaultViewport.Width = DefaultWidth
	}
	if c.Device.DefaultViewport.Height == 0 {
		c.Device.DefaultViewport.Height = DefaultHeight
	}
	if c.Matcher.TimeoutMs == 0 {
		c.Matcher.TimeoutMs = DefaultMatcherTimeout
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = GetArtifactsDir()
	}
	if c.Permissions == nil {
		c.Permissions = map[string]string{}
	}
}

// AppURL returns the app URL derived from BinaryPath.
func (c *Config) AppURL() string {
	return strings.TrimPrefix(c.BinaryPath, "/")
}

// Validate checks the configuration for a run.
func (c *Config) Validate() error {
	if c.Server == "" {
		return core.ErrMissingRequired.WithMessage("server is required")
	}
	if u, err := url.Parse(c.Server); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return core.ErrInvalidConfig.WithMessagef("server must be a ws:// or wss:// URL, got %q", c.Server)
	}
	if c.SessionID == "" {
		return core.ErrMissingRequired.WithMessage("sessionId is required")
	}
	if c.Device.DefaultViewport.Width < 0 || c.Device.DefaultViewport.Height < 0 {
		return core.ErrInvalidConfig.WithMessage("device.defaultViewport must be positive")
	}
	if c.Matcher.TimeoutMs < 0 {
		return core.ErrInvalidConfig.WithMessage("matcher.timeoutMs must be positive")
	}
	for _, p := range c.Synchronization.URLBlacklist {
		if _, err := regexp.Compile(p); err != nil {
			return core.ErrInvalidConfig.WithMessagef("synchronization.urlBlacklist: %q", p).WithCause(err)
		}
	}
	return nil
}

// Load loads configuration from a file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}
