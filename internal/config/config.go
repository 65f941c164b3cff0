// Package config loads server settings from defaults, an optional YAML file and
// the environment, in that order of precedence (environment wins).
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port" env:"PORT"`
	DatabaseURL string   `yaml:"database_url" env:"DATABASE_URL"`
	AdminSecret string   `yaml:"admin_secret" env:"ADMIN_SECRET"`
	JWTSecret   string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	Scan   ScanConfig   `yaml:"scan"`
	Notify NotifyConfig `yaml:"notify"`
}

type ScanConfig struct {
	Enabled     bool          `yaml:"enabled" env:"MATCH_SCAN_ENABLED"`
	Interval    time.Duration `yaml:"interval" env:"MATCH_SCAN_INTERVAL"`
	RunOnStart  bool          `yaml:"run_on_start" env:"MATCH_SCAN_ON_START"`
	Concurrency int           `yaml:"concurrency" env:"MATCH_SCAN_CONCURRENCY"`
}

type NotifyConfig struct {
	From    string `yaml:"from" env:"NOTIFY_FROM"`
	Verbose bool   `yaml:"verbose" env:"NOTIFY_VERBOSE"`
}

func Default() Config {
	return Config{
		Port:        "8081",
		CORSOrigins: []string{"http://localhost:4200"},
		Scan: ScanConfig{
			Enabled:     true,
			Interval:    30 * time.Minute,
			Concurrency: 4,
		},
		Notify: NotifyConfig{From: "grants@recovery-match.local"},
	}
}

// Load builds the configuration. The YAML file is read from CONFIG_FILE when
// set; ${VAR} references inside it are expanded before parsing.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("config: scan interval must be positive, got %s", c.Scan.Interval)
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("config: scan concurrency must be positive, got %d", c.Scan.Concurrency)
	}
	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	return nil
}

// EnsureSecrets fills unset secrets with random in-memory values so the server
// still starts in development. Tokens and admin calls stop working on restart.
func (c *Config) EnsureSecrets() error {
	for _, s := range []struct {
		name  string
		value *string
	}{
		{"ADMIN_SECRET", &c.AdminSecret},
		{"JWT_SECRET", &c.JWTSecret},
	} {
		if strings.TrimSpace(*s.value) != "" {
			continue
		}
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate %s fallback: %w", s.name, err)
		}
		*s.value = base64.RawURLEncoding.EncodeToString(buf)
		log.Printf("%s is not set; using ephemeral in-memory fallback secret", s.name)
	}
	return nil
}
