package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q, want :8000", cfg.ListenAddr)
	}
	if cfg.OfflineAfter.Std() != 2*time.Minute {
		t.Errorf("OfflineAfter = %v, want 2m", cfg.OfflineAfter.Std())
	}
	if cfg.AdminKey != "" {
		t.Errorf("AdminKey = %q, want empty by default", cfg.AdminKey)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9001"
db_path: /data/fleet.db
admin_key: sekrit
require_known_device: true
offline_after: 5m
allowed_origins:
  - http://dash.example.com
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9001" {
		t.Errorf("ListenAddr = %q, want :9001", cfg.ListenAddr)
	}
	if cfg.DBPath != "/data/fleet.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if !cfg.RequireKnownDevice {
		t.Error("RequireKnownDevice = false, want true")
	}
	if cfg.OfflineAfter.Std() != 5*time.Minute {
		t.Errorf("OfflineAfter = %v, want 5m", cfg.OfflineAfter.Std())
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://dash.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	// Unset fields keep their defaults.
	if cfg.ImagesDir != "images" {
		t.Errorf("ImagesDir = %q, want default images", cfg.ImagesDir)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9001\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TRAPSIGHT_LISTEN_ADDR", ":7777")
	t.Setenv("TRAPSIGHT_OFFLINE_AFTER", "90s")
	t.Setenv("TRAPSIGHT_ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want env value :7777", cfg.ListenAddr)
	}
	if cfg.OfflineAfter.Std() != 90*time.Second {
		t.Errorf("OfflineAfter = %v, want 90s", cfg.OfflineAfter.Std())
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("offline_after: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load err = nil, want parse error for bad duration")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load err = nil, want error for missing file")
	}
}
