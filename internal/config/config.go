package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"loopsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	SnapshotTTL int    `yaml:"snapshot_ttl_minutes"`
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	ActorID        string `yaml:"actor_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SyncConfig struct {
	DebounceSeconds int     `yaml:"debounce_seconds"`
	StuckThreshold  int     `yaml:"stuck_threshold"`
	TriggerRPS      float64 `yaml:"trigger_rps"`
	TriggerBurst    int     `yaml:"trigger_burst"`
	MaxPending      int     `yaml:"max_pending"`
	MaxImageBytes   int     `yaml:"max_image_bytes"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment wins when both are present.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	if c.API.BaseURL == "" {
		return errors.New("api base_url is required")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis enabled but address is empty")
	}
	if c.Sync.MaxImageBytes < 0 || c.Sync.MaxPending < 0 {
		return errors.New("sync bounds must be non-negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "loopsync"
	}
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 15
	}
	if c.Sync.DebounceSeconds == 0 {
		c.Sync.DebounceSeconds = models.DefaultDebounceSeconds
	}
	if c.Sync.StuckThreshold == 0 {
		c.Sync.StuckThreshold = models.DefaultStuckThreshold
	}
	if c.Sync.TriggerRPS == 0 {
		c.Sync.TriggerRPS = 1
	}
	if c.Sync.TriggerBurst == 0 {
		c.Sync.TriggerBurst = 2
	}
	if c.Sync.MaxPending == 0 {
		c.Sync.MaxPending = models.DefaultMaxPendingEntries
	}
	if c.Sync.MaxImageBytes == 0 {
		c.Sync.MaxImageBytes = models.DefaultMaxImageBytes
	}
	if c.Redis.SnapshotTTL == 0 {
		c.Redis.SnapshotTTL = 60
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// Timeout returns the API timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Debounce returns the sync debounce window as a duration.
func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceSeconds) * time.Second
}
