// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	ImagesDir  string `yaml:"images_dir"`

	// BaseURL is the externally visible server root used to build
	// image URLs, e.g. "http://traps.example.com:8000".
	BaseURL string `yaml:"base_url"`

	// AdminKey guards destructive endpoints. Empty disables the check
	// (development mode).
	AdminKey string `yaml:"admin_key"`

	// RequireKnownDevice rejects reports from unenrolled identities.
	RequireKnownDevice bool `yaml:"require_known_device"`

	ObserverBuffer int      `yaml:"observer_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	OfflineAfter  Duration `yaml:"offline_after"`
	CheckInterval Duration `yaml:"check_interval"`
	IngestTimeout Duration `yaml:"ingest_timeout"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8000",
		DBPath:         "trapsight.db",
		ImagesDir:      "images",
		BaseURL:        "http://localhost:8000",
		ObserverBuffer: 32,
		AllowedOrigins: []string{"*"},
		OfflineAfter:   Duration(2 * time.Minute),
		CheckInterval:  Duration(30 * time.Second),
		IngestTimeout:  Duration(30 * time.Second),
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (if non-empty), then a .env file in the working directory (if
// present), then TRAPSIGHT_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRAPSIGHT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRAPSIGHT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRAPSIGHT_IMAGES_DIR"); v != "" {
		cfg.ImagesDir = v
	}
	if v := os.Getenv("TRAPSIGHT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TRAPSIGHT_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("TRAPSIGHT_REQUIRE_KNOWN_DEVICE"); v != "" {
		cfg.RequireKnownDevice, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("TRAPSIGHT_OBSERVER_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ObserverBuffer = n
		}
	}
	if v := os.Getenv("TRAPSIGHT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitOrigins(v)
	}
	if v := os.Getenv("TRAPSIGHT_OFFLINE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OfflineAfter = Duration(d)
		}
	}
	if v := os.Getenv("TRAPSIGHT_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckInterval = Duration(d)
		}
	}
	if v := os.Getenv("TRAPSIGHT_INGEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IngestTimeout = Duration(d)
		}
	}
}

func splitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
