package config

import (
	"strings"
	"time"

	"github.com/marmos91/fsal/pkg/export"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Defaults are filled for every backend type, so a generated sample
//     config shows all sections
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBackendDefaults(&cfg.Backend)
	applyExportDefaults(&cfg.Export)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "cow"
	}

	if cfg.Posix == nil {
		cfg.Posix = make(map[string]any)
	}
	if _, ok := cfg.Posix["path"]; !ok {
		cfg.Posix["path"] = "/tmp/fsal/export"
	}

	applyCowDefaults(&cfg.Cow)
}

func applyCowDefaults(cfg *CowConfig) {
	if cfg.Name == "" {
		cfg.Name = "live"
	}
	if cfg.RecordSize == 0 {
		cfg.RecordSize = 128 * 1024
	}

	if cfg.Metadata.Type == "" {
		cfg.Metadata.Type = "badger"
	}
	if cfg.Metadata.Badger == nil {
		cfg.Metadata.Badger = make(map[string]any)
	}
	if _, ok := cfg.Metadata.Badger["path"]; !ok {
		cfg.Metadata.Badger["path"] = "/tmp/fsal/metadata"
	}
	if cfg.Metadata.Bolt == nil {
		cfg.Metadata.Bolt = make(map[string]any)
	}
	if _, ok := cfg.Metadata.Bolt["path"]; !ok {
		cfg.Metadata.Bolt["path"] = "/tmp/fsal/metadata.db"
	}

	if cfg.Blocks.Type == "" {
		cfg.Blocks.Type = "fs"
	}
	if cfg.Blocks.Compression == "" {
		cfg.Blocks.Compression = "lz4"
	}
	cfg.Blocks.Compression = strings.ToLower(cfg.Blocks.Compression)
	if cfg.Blocks.FS == nil {
		cfg.Blocks.FS = make(map[string]any)
	}
	if _, ok := cfg.Blocks.FS["path"]; !ok {
		cfg.Blocks.FS["path"] = "/tmp/fsal/blocks"
	}

	// Snapshots defaults to none: they are mounted on demand

	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = 24 * time.Hour
	}
	if cfg.GC.BatchSize == 0 {
		cfg.GC.BatchSize = 1000
	}
}

func applyExportDefaults(cfg *ExportConfig) {
	if cfg.PseudoDirName == "" {
		cfg.PseudoDirName = export.DefaultPseudoDirName
	}
	applyIdentityMappingDefaults(&cfg.IdentityMapping)
}

// applyIdentityMappingDefaults sets identity mapping defaults.
func applyIdentityMappingDefaults(cfg *IdentityMappingConfig) {
	// Anonymous user defaults (nobody/nogroup)
	if cfg.AnonymousUID == 0 {
		cfg.AnonymousUID = export.DefaultAnonUID
	}
	if cfg.AnonymousGID == 0 {
		cfg.AnonymousGID = export.DefaultAnonGID
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
