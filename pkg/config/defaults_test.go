package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalization(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"Info", "INFO"},
		{"WARN", "WARN"},
		{"error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := &Config{Logging: LoggingConfig{Level: tt.input}}
			ApplyDefaults(cfg)
			if cfg.Logging.Level != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, cfg.Logging.Level)
			}
		})
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
	if cfg.Server.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
}

func TestApplyDefaults_Backend(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Backend.Type != "cow" {
		t.Errorf("Expected default backend 'cow', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.Posix["path"] != "/tmp/fsal/export" {
		t.Errorf("Expected default posix path, got %v", cfg.Backend.Posix["path"])
	}

	cow := cfg.Backend.Cow
	if cow.Name != "live" {
		t.Errorf("Expected default dataset name 'live', got %q", cow.Name)
	}
	if cow.RecordSize != 128*1024 {
		t.Errorf("Expected default record size 128KiB, got %d", cow.RecordSize)
	}
	if cow.Metadata.Type != "badger" {
		t.Errorf("Expected default metadata store 'badger', got %q", cow.Metadata.Type)
	}
	if cow.Metadata.Badger["path"] != "/tmp/fsal/metadata" {
		t.Errorf("Expected default badger path, got %v", cow.Metadata.Badger["path"])
	}
	if cow.Metadata.Bolt["path"] != "/tmp/fsal/metadata.db" {
		t.Errorf("Expected default bolt path, got %v", cow.Metadata.Bolt["path"])
	}
	if cow.Blocks.Type != "fs" {
		t.Errorf("Expected default block store 'fs', got %q", cow.Blocks.Type)
	}
	if cow.Blocks.FS["path"] != "/tmp/fsal/blocks" {
		t.Errorf("Expected default block path, got %v", cow.Blocks.FS["path"])
	}
	if len(cow.Snapshots) != 0 {
		t.Errorf("Expected no snapshots by default, got %v", cow.Snapshots)
	}
	if cow.GC.Enabled {
		t.Error("Expected garbage collection disabled by default")
	}
	if cow.GC.Interval != 24*time.Hour {
		t.Errorf("Expected default gc interval 24h, got %v", cow.GC.Interval)
	}
	if cow.GC.BatchSize != 1000 {
		t.Errorf("Expected default gc batch size 1000, got %d", cow.GC.BatchSize)
	}
}

func TestApplyDefaults_CompressionNormalization(t *testing.T) {
	cfg := &Config{}
	cfg.Backend.Cow.Blocks.Compression = "ZSTD"
	ApplyDefaults(cfg)

	if cfg.Backend.Cow.Blocks.Compression != "zstd" {
		t.Errorf("Expected compression normalized to 'zstd', got %q", cfg.Backend.Cow.Blocks.Compression)
	}
}

func TestApplyDefaults_Export(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Export.PseudoDirName != ".snapshots" {
		t.Errorf("Expected default pseudo dir '.snapshots', got %q", cfg.Export.PseudoDirName)
	}
	if cfg.Export.IdentityMapping.AnonymousUID != 65534 {
		t.Errorf("Expected default anonymous uid 65534, got %d", cfg.Export.IdentityMapping.AnonymousUID)
	}
	if cfg.Export.IdentityMapping.AnonymousGID != 65534 {
		t.Errorf("Expected default anonymous gid 65534, got %d", cfg.Export.IdentityMapping.AnonymousGID)
	}
	if cfg.Export.ReadBytesPerSecond != 0 || cfg.Export.WriteBytesPerSecond != 0 {
		t.Error("Expected unthrottled I/O by default")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "WARN", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: time.Minute},
		Backend: BackendConfig{
			Type:  "posix",
			Posix: map[string]any{"path": "/srv/data"},
			Cow: CowConfig{
				RecordSize: 4096,
				Metadata:   KVConfig{Type: "bolt", Bolt: map[string]any{"path": "/var/lib/fsal.db"}},
				Blocks:     BlockStoreConfig{Type: "s3", Compression: "none"},
			},
		},
		Export: ExportConfig{
			PseudoDirName: ".zfs",
			IdentityMapping: IdentityMappingConfig{
				AnonymousUID: 99,
				AnonymousGID: 98,
			},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Explicit logging values overwritten: %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Explicit shutdown_timeout overwritten: %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Backend.Type != "posix" || cfg.Backend.Posix["path"] != "/srv/data" {
		t.Errorf("Explicit backend overwritten: %+v", cfg.Backend)
	}
	if cfg.Backend.Cow.RecordSize != 4096 {
		t.Errorf("Explicit record size overwritten: %d", cfg.Backend.Cow.RecordSize)
	}
	if cfg.Backend.Cow.Metadata.Type != "bolt" || cfg.Backend.Cow.Metadata.Bolt["path"] != "/var/lib/fsal.db" {
		t.Errorf("Explicit metadata store overwritten: %+v", cfg.Backend.Cow.Metadata)
	}
	if cfg.Backend.Cow.Blocks.Type != "s3" || cfg.Backend.Cow.Blocks.Compression != "none" {
		t.Errorf("Explicit block store overwritten: %+v", cfg.Backend.Cow.Blocks)
	}
	if cfg.Export.PseudoDirName != ".zfs" {
		t.Errorf("Explicit pseudo dir overwritten: %q", cfg.Export.PseudoDirName)
	}
	if cfg.Export.IdentityMapping.AnonymousUID != 99 || cfg.Export.IdentityMapping.AnonymousGID != 98 {
		t.Errorf("Explicit anonymous identity overwritten: %+v", cfg.Export.IdentityMapping)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
}
