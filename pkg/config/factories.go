package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/backend/cow"
	"github.com/marmos91/fsal/pkg/blockstore"
	blockfs "github.com/marmos91/fsal/pkg/blockstore/fs"
	blockmemory "github.com/marmos91/fsal/pkg/blockstore/memory"
	blocks3 "github.com/marmos91/fsal/pkg/blockstore/s3"
	"github.com/marmos91/fsal/pkg/export"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/gc"
	"github.com/marmos91/fsal/pkg/kv"
	"github.com/marmos91/fsal/pkg/kv/badgerkv"
	"github.com/marmos91/fsal/pkg/kv/boltkv"
	"github.com/marmos91/fsal/pkg/registry"
	"github.com/mitchellh/mapstructure"
)

// Instance is the live backend built from configuration plus the
// snapshot instances to mount next to it.
type Instance struct {
	// Live is the writable backend instance
	Live fsal.Backend

	// Snapshots are read-only instances to mount in the pseudo directory
	Snapshots []SnapshotInstance

	// Volume is the copy-on-write volume (nil for other backends)
	Volume *cow.Volume
}

// SnapshotInstance is one snapshot backend and the label it is mounted
// under.
type SnapshotInstance struct {
	Label   string
	Backend fsal.Backend
}

// Close releases what the instance holds beyond its mounted backends.
// Backends themselves are unmounted by the export's registry.
func (i *Instance) Close() error {
	if i == nil || i.Volume == nil {
		return nil
	}
	return i.Volume.Close()
}

// decodeSection decodes a type-specific configuration map into out.
//
// Durations may be given as strings ("5m") and scalar types are converted
// weakly, so values coming from environment variables decode too. The
// result is validated with the struct's validate tags.
func decodeSection(section string, in map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	if err := decoder.Decode(in); err != nil {
		return fmt.Errorf("failed to decode %s config: %w", section, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", section, formatValidationError(err))
	}
	return nil
}

// CreateBackend creates the live backend selected by cfg.Backend.Type.
//
// Supported types:
//   - "posix": Uses pkg/backend/posix (an existing local directory)
//   - "cow": Uses pkg/backend/cow (a copy-on-write volume with snapshots)
//
// For "cow" the snapshots listed in cfg.Backend.Cow.Snapshots are mounted
// as well.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: The complete configuration
//   - m: Metrics components (nil = no metrics)
//
// Returns:
//   - *Instance: The backends; Close it after the export is shut down
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *Config, m *MetricsResult) (*Instance, error) {
	switch cfg.Backend.Type {
	case "posix":
		b, err := createPosixBackend(cfg.Backend.Posix)
		if err != nil {
			return nil, err
		}
		return &Instance{Live: b}, nil
	case "cow":
		return createCowBackend(ctx, &cfg.Backend.Cow, m)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Backend.Type)
	}
}

func createCowBackend(ctx context.Context, cfg *CowConfig, m *MetricsResult) (*Instance, error) {
	vol, err := CreateVolume(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	inst := &Instance{Volume: vol}
	live, err := vol.Mount(ctx, "")
	if err != nil {
		_ = vol.Close()
		return nil, fmt.Errorf("failed to mount live dataset: %w", err)
	}
	inst.Live = live

	names := cfg.Snapshots
	if len(names) == 1 && names[0] == "*" {
		catalog, err := vol.Snapshots(ctx)
		if err != nil {
			_ = vol.Close()
			return nil, err
		}
		names = names[:0:0]
		for _, info := range catalog {
			names = append(names, info.Name)
		}
	}

	for _, name := range names {
		ds, err := vol.Mount(ctx, name)
		if err != nil {
			_ = vol.Close()
			return nil, fmt.Errorf("failed to mount snapshot %q: %w", name, err)
		}
		inst.Snapshots = append(inst.Snapshots, SnapshotInstance{Label: name, Backend: ds})
	}

	return inst, nil
}

// CreateVolume opens (formatting if empty) the copy-on-write volume
// described by cfg.
func CreateVolume(ctx context.Context, cfg *CowConfig, m *MetricsResult) (*cow.Volume, error) {
	store, err := CreateKVStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, err
	}
	blocks, err := CreateBlockStore(ctx, &cfg.Blocks, m)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	vol, err := cow.Open(ctx, store, blocks, cow.Options{Name: cfg.Name, RecordSize: cfg.RecordSize})
	if err != nil {
		return nil, errors.Join(err, store.Close(), blocks.Close())
	}
	return vol, nil
}

// CreateKVStore creates the key/value store selected by cfg.Type.
//
// Supported types:
//   - "badger": Uses pkg/kv/badgerkv (BadgerDB directory or in-memory)
//   - "bolt": Uses pkg/kv/boltkv (single bbolt file)
func CreateKVStore(ctx context.Context, cfg *KVConfig) (kv.Store, error) {
	switch cfg.Type {
	case "badger":
		var storeCfg badgerkv.Config
		if err := decodeSection("badger", cfg.Badger, &storeCfg); err != nil {
			return nil, err
		}
		store, err := badgerkv.Open(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
		return store, nil
	case "bolt":
		var storeCfg boltkv.Config
		if err := decodeSection("bolt", cfg.Bolt, &storeCfg); err != nil {
			return nil, err
		}
		store, err := boltkv.Open(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

// CreateBlockStore creates the block store selected by cfg.Type, wrapped
// with the configured compression and, when metrics are enabled, with
// instrumentation.
//
// Supported types:
//   - "memory": Uses pkg/blockstore/memory (lost on exit)
//   - "fs": Uses pkg/blockstore/fs (one file per block)
//   - "s3": Uses pkg/blockstore/s3 (Amazon S3 or compatible storage)
func CreateBlockStore(ctx context.Context, cfg *BlockStoreConfig, m *MetricsResult) (blockstore.Store, error) {
	var store blockstore.Store
	switch cfg.Type {
	case "memory":
		store = blockmemory.New()
	case "fs":
		type fsConfig struct {
			Path string `mapstructure:"path" validate:"required"`
		}
		var storeCfg fsConfig
		if err := decodeSection("fs", cfg.FS, &storeCfg); err != nil {
			return nil, err
		}
		s, err := blockfs.New(ctx, storeCfg.Path)
		if err != nil {
			return nil, err
		}
		store = s
	case "s3":
		var storeCfg blocks3.Config
		if err := decodeSection("s3", cfg.S3, &storeCfg); err != nil {
			return nil, err
		}
		client, err := blocks3.NewClient(ctx, storeCfg)
		if err != nil {
			return nil, err
		}
		s, err := blocks3.New(ctx, client, storeCfg.Bucket, storeCfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info("S3 block store initialized: bucket=%s, region=%s, prefix=%s",
			storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
		store = s
	default:
		return nil, fmt.Errorf("unknown block store type: %q", cfg.Type)
	}

	store = blockstore.NewInstrumented(store, m.BlockStoreMetrics(cfg.Type))

	compressed, err := blockstore.NewCompressed(store, cfg.Compression)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return compressed, nil
}

// CreateExport builds the mount registry over inst and the export on top
// of it.
func CreateExport(cfg *Config, inst *Instance, m *MetricsResult) (*export.Export, error) {
	reg := registry.New(inst.Live)

	idm := cfg.Export.IdentityMapping
	anonUID, anonGID := idm.AnonymousUID, idm.AnonymousGID

	name := cfg.Export.Name
	if name == "" {
		name = inst.Live.Name()
	}

	exp, err := export.New(reg, export.Options{
		Name:              name,
		PseudoDirName:     cfg.Export.PseudoDirName,
		FollowJunctions:   cfg.Export.FollowJunctions,
		FormatXattrValues: cfg.Export.FormatXattrValues,
		Identity: export.IdentityMapping{
			AllSquash:  idm.MapAllToAnonymous,
			RootSquash: idm.MapPrivilegedToAnonymous,
			AnonUID:    &anonUID,
			AnonGID:    &anonGID,
		},
		ReadBytesPerSecond:  cfg.Export.ReadBytesPerSecond,
		WriteBytesPerSecond: cfg.Export.WriteBytesPerSecond,
		Metrics:             m.ExportMetrics(name),
	})
	if err != nil {
		return nil, err
	}

	for _, snap := range inst.Snapshots {
		if _, err := exp.AddSnapshot(snap.Label, snap.Backend); err != nil {
			return nil, fmt.Errorf("failed to mount snapshot %q: %w", snap.Label, err)
		}
	}

	return exp, nil
}

// CreateCollector creates the orphaned block collector of a cow instance.
// It returns nil, nil for backends without a volume.
func CreateCollector(cfg *Config, inst *Instance) (*gc.Collector, error) {
	if inst.Volume == nil {
		return nil, nil
	}
	return gc.NewCollector(inst.Volume, cfg.Backend.Cow.GC)
}
