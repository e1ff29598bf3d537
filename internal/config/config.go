package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// minSecretLen is the smallest signing key accepted for HS256.
const minSecretLen = 32

// Config models taskline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		Secret         string `yaml:"secret"`
		SessionMinutes int    `yaml:"session_minutes"`
	} `yaml:"auth"`
	Limiter struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"limiter"`
}

// SessionDuration returns the configured token lifetime.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Auth.SessionMinutes) * time.Minute
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. A missing or weak
// signing key is a startup failure, never a runtime fallback.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("config.auth.secret is required")
	}
	if len(c.Auth.Secret) < minSecretLen {
		return fmt.Errorf("config.auth.secret must be at least %d bytes for HS256", minSecretLen)
	}
	if c.Auth.SessionMinutes <= 0 {
		return fmt.Errorf("config.auth.session_minutes must be positive")
	}
	if c.Limiter.Enabled {
		if c.Limiter.RPS <= 0 {
			return fmt.Errorf("config.limiter.rps must be positive")
		}
		if c.Limiter.Burst <= 0 {
			return fmt.Errorf("config.limiter.burst must be positive")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML with a fresh signing key.
func GenerateDefault() string {
	return fmt.Sprintf(defaultTemplate, NewSecret())
}

// NewSecret returns a random hex signing key.
func NewSecret() string {
	buf := make([]byte, minSecretLen)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random: %v", err))
	}
	return hex.EncodeToString(buf)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: ""

auth:
  secret: %s
  session_minutes: 1440

limiter:
  enabled: false
  rps: 5
  burst: 10
`
