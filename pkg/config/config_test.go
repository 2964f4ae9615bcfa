package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

backend:
  type: "cow"
  cow:
    metadata:
      type: "badger"
      badger:
        in_memory: true
    blocks:
      type: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level normalized to 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Backend.Cow.Blocks.Compression != "lz4" {
		t.Errorf("Expected default compression 'lz4', got %q", cfg.Backend.Cow.Blocks.Compression)
	}
	if inMemory, _ := cfg.Backend.Cow.Metadata.Badger["in_memory"].(bool); !inMemory {
		t.Errorf("Expected badger in_memory to be kept, got %v", cfg.Backend.Cow.Metadata.Badger)
	}
	if _, ok := cfg.Backend.Cow.Metadata.Badger["path"]; !ok {
		t.Error("Expected default badger path to be filled in")
	}
	if cfg.Export.PseudoDirName != ".snapshots" {
		t.Errorf("Expected default pseudo dir '.snapshots', got %q", cfg.Export.PseudoDirName)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path that does not exist keeps the user's own config out of the test
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Backend.Type != "cow" {
		t.Errorf("Expected default backend type 'cow', got %q", cfg.Backend.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[backend]
type = "posix"

[backend.posix]
path = "/srv/export"
override_fsid = true
fsid_major = 7

[export]
pseudo_dir_name = ".zfs"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Backend.Type != "posix" {
		t.Errorf("Expected backend 'posix', got %q", cfg.Backend.Type)
	}
	if path, _ := cfg.Backend.Posix["path"].(string); path != "/srv/export" {
		t.Errorf("Expected posix path '/srv/export', got %v", cfg.Backend.Posix["path"])
	}
	if cfg.Export.PseudoDirName != ".zfs" {
		t.Errorf("Expected pseudo dir '.zfs', got %q", cfg.Export.PseudoDirName)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FSAL_LOGGING_LEVEL", "debug")
	t.Setenv("FSAL_SERVER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("FSAL_EXPORT_PSEUDO_DIR_NAME", ".history")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "ERROR"
export:
  pseudo_dir_name: ".snap"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected env shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Export.PseudoDirName != ".history" {
		t.Errorf("Expected env pseudo dir '.history', got %q", cfg.Export.PseudoDirName)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  type: "zfs"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown backend type")
	}
}

func TestLoad_Snapshots(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  cow:
    snapshots: ["monday", "tuesday"]
export:
  identity_mapping:
    map_privileged_to_anonymous: true
    anonymous_uid: 1000
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Backend.Cow.Snapshots) != 2 || cfg.Backend.Cow.Snapshots[1] != "tuesday" {
		t.Errorf("Expected two snapshots, got %v", cfg.Backend.Cow.Snapshots)
	}
	idm := cfg.Export.IdentityMapping
	if !idm.MapPrivilegedToAnonymous {
		t.Error("Expected root squash to be enabled")
	}
	if idm.AnonymousUID != 1000 {
		t.Errorf("Expected anonymous uid 1000, got %d", idm.AnonymousUID)
	}
	if idm.AnonymousGID != 65534 {
		t.Errorf("Expected default anonymous gid 65534, got %d", idm.AnonymousGID)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if got := GetConfigDir(); got != filepath.Join(xdg, "fsal") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "fsal"), got)
	}
	if got := GetDefaultConfigPath(); got != filepath.Join(xdg, "fsal", "config.yaml") {
		t.Errorf("Unexpected default config path %q", got)
	}
	if ConfigExists() {
		t.Error("Expected no config in a fresh directory")
	}
}

func TestLoad_GarbageCollection(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  cow:
    gc:
      enabled: true
      interval: "6h"
      batch_size: 50
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	g := cfg.Backend.Cow.GC
	if !g.Enabled {
		t.Error("Expected garbage collection enabled")
	}
	if g.Interval != 6*time.Hour {
		t.Errorf("Expected interval 6h, got %v", g.Interval)
	}
	if g.BatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", g.BatchSize)
	}
	if g.DryRun {
		t.Error("Expected dry run off")
	}
}
