package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/fsal/pkg/gc"
	"github.com/spf13/viper"
)

// Config represents the complete fsal configuration.
//
// This structure captures every configurable aspect of one export:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - Backend selection and its type-specific configuration
//   - Export behaviour (pseudo directory, identity mapping, throttling)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FSAL_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Backend section
// carries one sub-section per type and only the one matching Backend.Type
// is decoded, with mapstructure, by the factory.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Backend selects the live backend and its configuration
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Export configures the exported filesystem
	Export ExportConfig `mapstructure:"export" yaml:"export"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds closing sessions and unmounting instances
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host to bind (empty = all interfaces)
	Host string `mapstructure:"host" yaml:"host"`

	// Port of the HTTP endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// BackendConfig selects the live backend.
//
// The Type field determines which backend is created. Only the matching
// sub-section is used.
type BackendConfig struct {
	// Type specifies the backend implementation
	// Valid values: posix, cow
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=posix cow"`

	// Posix is decoded into posix.Config. Only used when Type = "posix"
	Posix map[string]any `mapstructure:"posix" yaml:"posix"`

	// Cow configures the copy-on-write volume. Only used when Type = "cow"
	Cow CowConfig `mapstructure:"cow" yaml:"cow"`
}

// CowConfig configures a copy-on-write volume.
type CowConfig struct {
	// Name labels the live dataset when the volume is formatted
	Name string `mapstructure:"name" yaml:"name"`

	// RecordSize is the file record size used when the volume is formatted
	RecordSize uint32 `mapstructure:"record_size" yaml:"record_size" validate:"omitempty,min=512,max=1048576"`

	// Metadata selects the key/value store holding the namespace
	Metadata KVConfig `mapstructure:"metadata" yaml:"metadata"`

	// Blocks selects the block store holding file data
	Blocks BlockStoreConfig `mapstructure:"blocks" yaml:"blocks"`

	// Snapshots lists the snapshots mounted at startup. "*" mounts every
	// snapshot in the catalog.
	Snapshots []string `mapstructure:"snapshots" yaml:"snapshots"`

	// GC configures the orphaned block collector
	GC gc.Config `mapstructure:"gc" yaml:"gc"`
}

// KVConfig selects a key/value store.
type KVConfig struct {
	// Type specifies the store implementation
	// Valid values: badger, bolt
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=badger bolt"`

	// Badger is decoded into badgerkv.Config
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// Bolt is decoded into boltkv.Config
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt"`
}

// BlockStoreConfig selects a block store.
type BlockStoreConfig struct {
	// Type specifies the store implementation
	// Valid values: memory, fs, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory fs s3"`

	// Compression is applied to every block
	// Valid values: none, lz4, zstd
	Compression string `mapstructure:"compression" yaml:"compression" validate:"required,oneof=none lz4 zstd"`

	// FS contains filesystem-specific configuration (path)
	FS map[string]any `mapstructure:"fs" yaml:"fs"`

	// S3 is decoded into s3.Config
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// ExportConfig configures the exported filesystem.
type ExportConfig struct {
	// Name labels the export in logs and metrics (default: backend name)
	Name string `mapstructure:"name" yaml:"name"`

	// PseudoDirName is the snapshot directory in the export root
	PseudoDirName string `mapstructure:"pseudo_dir_name" yaml:"pseudo_dir_name" validate:"required,excludesall=/"`

	// FollowJunctions lets path lookups descend into junctions
	FollowJunctions bool `mapstructure:"follow_junctions" yaml:"follow_junctions"`

	// FormatXattrValues renders extended attribute values as text
	FormatXattrValues bool `mapstructure:"format_xattr_values" yaml:"format_xattr_values"`

	// IdentityMapping controls user/group squashing
	IdentityMapping IdentityMappingConfig `mapstructure:"identity_mapping" yaml:"identity_mapping"`

	// ReadBytesPerSecond throttles session reads (0 = unlimited)
	ReadBytesPerSecond uint64 `mapstructure:"read_bytes_per_second" yaml:"read_bytes_per_second"`

	// WriteBytesPerSecond throttles session writes (0 = unlimited)
	WriteBytesPerSecond uint64 `mapstructure:"write_bytes_per_second" yaml:"write_bytes_per_second"`
}

// IdentityMappingConfig controls user/group identity mapping.
type IdentityMappingConfig struct {
	// MapAllToAnonymous maps all users to anonymous (all_squash)
	MapAllToAnonymous bool `mapstructure:"map_all_to_anonymous" yaml:"map_all_to_anonymous"`

	// MapPrivilegedToAnonymous maps root user to anonymous (root_squash)
	MapPrivilegedToAnonymous bool `mapstructure:"map_privileged_to_anonymous" yaml:"map_privileged_to_anonymous"`

	// AnonymousUID is the UID to use for anonymous users
	AnonymousUID uint32 `mapstructure:"anonymous_uid" yaml:"anonymous_uid"`

	// AnonymousGID is the GID to use for anonymous users
	AnonymousGID uint32 `mapstructure:"anonymous_gid" yaml:"anonymous_gid"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FSAL_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FSAL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FSAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalar keys must be known to viper for AutomaticEnv to see them.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the settings that can be overridden without a config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"backend.type",
	"backend.posix.path",
	"export.name",
	"export.pseudo_dir_name",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file, named or searched for, leaves the defaults.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fsal")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "fsal")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
