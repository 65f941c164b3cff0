package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8081" {
		t.Errorf("Port = %q, want 8081", cfg.Port)
	}
	if !cfg.Scan.Enabled || cfg.Scan.Interval != 30*time.Minute || cfg.Scan.Concurrency != 4 {
		t.Errorf("unexpected scan defaults: %+v", cfg.Scan)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
port: "9000"
database_url: ${TEST_RM_DB}
cors_origins: ["https://app.example.org"]
scan:
  interval: 5m
  concurrency: 2
  run_on_start: true
notify:
  from: grants@example.org
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_RM_DB", "postgres://db.internal/rm")
	t.Setenv("MATCH_SCAN_CONCURRENCY", "8")
	t.Setenv("CORS_ORIGINS", "https://a.example.org, https://b.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000 from file", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://db.internal/rm" {
		t.Errorf("DatabaseURL = %q, want expanded value", cfg.DatabaseURL)
	}
	if cfg.Scan.Interval != 5*time.Minute || !cfg.Scan.RunOnStart {
		t.Errorf("scan from file not applied: %+v", cfg.Scan)
	}
	if cfg.Scan.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want env override 8", cfg.Scan.Concurrency)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.org" {
		t.Errorf("CORSOrigins = %q", cfg.CORSOrigins)
	}
	if cfg.Notify.From != "grants@example.org" {
		t.Errorf("Notify.From = %q", cfg.Notify.From)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad duration", map[string]string{"MATCH_SCAN_INTERVAL": "soon"}, "parse env:"},
		{"zero concurrency", map[string]string{"MATCH_SCAN_CONCURRENCY": "0"}, "concurrency must be positive"},
		{"missing file", map[string]string{"CONFIG_FILE": "/nonexistent/config.yaml"}, "read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEnsureSecrets(t *testing.T) {
	cfg := Config{AdminSecret: "keep-me"}
	if err := cfg.EnsureSecrets(); err != nil {
		t.Fatalf("EnsureSecrets: %v", err)
	}
	if cfg.AdminSecret != "keep-me" {
		t.Errorf("AdminSecret overwritten: %q", cfg.AdminSecret)
	}
	if len(cfg.JWTSecret) < 32 {
		t.Errorf("JWTSecret not generated: %q", cfg.JWTSecret)
	}
}
