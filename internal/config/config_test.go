package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
app:
  name: loopsync
  environment: test
storage:
  path: /tmp/loopsync/offline.db
api:
  base_url: https://api.example.com
  token: test-token
  actor_id: tech-1
  timeout_seconds: 30
sync:
  debounce_seconds: 5
  stuck_threshold: 3
  max_pending: 100
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "loopsync" {
		t.Errorf("App.Name = %q, want loopsync", cfg.App.Name)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout() != 30*time.Second {
		t.Errorf("API.Timeout() = %v, want 30s", cfg.API.Timeout())
	}
	if cfg.Sync.Debounce() != 5*time.Second {
		t.Errorf("Sync.Debounce() = %v, want 5s", cfg.Sync.Debounce())
	}
	if cfg.Sync.StuckThreshold != 3 {
		t.Errorf("Sync.StuckThreshold = %d, want 3", cfg.Sync.StuckThreshold)
	}
	if cfg.Sync.MaxPending != 100 {
		t.Errorf("Sync.MaxPending = %d, want 100", cfg.Sync.MaxPending)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/loopsync/offline.db
api:
  base_url: https://api.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "loopsync" {
		t.Errorf("default App.Name = %q", cfg.App.Name)
	}
	if cfg.API.TimeoutSeconds != 15 {
		t.Errorf("default TimeoutSeconds = %d, want 15", cfg.API.TimeoutSeconds)
	}
	if cfg.Sync.DebounceSeconds == 0 {
		t.Error("default DebounceSeconds not applied")
	}
	if cfg.Sync.MaxPending == 0 || cfg.Sync.MaxImageBytes == 0 {
		t.Error("default queue bounds not applied")
	}
	if cfg.Sync.StuckThreshold == 0 {
		t.Error("default StuckThreshold not applied")
	}
	if cfg.Redis.SnapshotTTL != 60 {
		t.Errorf("default SnapshotTTL = %d, want 60", cfg.Redis.SnapshotTTL)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LOOPSYNC_TOKEN", "secret-from-env")

	path := writeConfig(t, `
storage:
  path: /tmp/loopsync/offline.db
api:
  base_url: https://api.example.com
  token: ${LOOPSYNC_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.API.Token != "secret-from-env" {
		t.Errorf("API.Token = %q, want secret-from-env", cfg.API.Token)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"MissingStoragePath", func(c *Config) { c.Storage.Path = "" }, true},
		{"MissingBaseURL", func(c *Config) { c.API.BaseURL = "" }, true},
		{"RedisEnabledNoAddress", func(c *Config) { c.Redis.Enabled = true }, true},
		{"NegativeMaxPending", func(c *Config) { c.Sync.MaxPending = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Storage: StorageConfig{Path: "/tmp/offline.db"},
				API:     APIConfig{BaseURL: "https://api.example.com"},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
