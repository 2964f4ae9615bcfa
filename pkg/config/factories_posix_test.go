//go:build linux

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/fsal/pkg/fsal"
)

func TestCreateBackend_Posix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme"), []byte("hi"), 0644); err != nil {
		t.Fatalf("Failed to seed export: %v", err)
	}

	cfg := GetDefaultConfig()
	cfg.Backend.Type = "posix"
	cfg.Backend.Posix = map[string]any{
		"path":          dir,
		"name":          "scratch",
		"override_fsid": true,
		"fsid_major":    "17",
	}

	inst, err := CreateBackend(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	defer func() { _ = inst.Close() }()

	if inst.Volume != nil || len(inst.Snapshots) != 0 {
		t.Errorf("Expected a bare posix instance, got %+v", inst)
	}
	if inst.Live.Name() != "scratch" {
		t.Errorf("Expected name 'scratch', got %q", inst.Live.Name())
	}
	if inst.Live.FSID().Major != 17 {
		t.Errorf("Expected overridden fsid major 17, got %d", inst.Live.FSID().Major)
	}

	exp, err := CreateExport(cfg, inst, nil)
	if err != nil {
		t.Fatalf("CreateExport failed: %v", err)
	}
	defer func() { _ = exp.Shutdown(ctx) }()

	_, attrs, err := exp.LookupPath(fsal.RootAuth(ctx), "/readme")
	if err != nil {
		t.Fatalf("LookupPath failed: %v", err)
	}
	if attrs.Size != 2 {
		t.Errorf("Expected size 2, got %d", attrs.Size)
	}
}

func TestCreateBackend_PosixMissingDirectory(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "posix"
	cfg.Backend.Posix = map[string]any{"path": filepath.Join(t.TempDir(), "missing")}

	if _, err := CreateBackend(context.Background(), cfg, nil); err == nil {
		t.Fatal("Expected error for a missing export directory")
	}
}

func TestCreateBackend_PosixFSIDOutOfRange(t *testing.T) {
	for _, key := range []string{"fsid_major", "fsid_minor"} {
		t.Run(key, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Backend.Type = "posix"
			cfg.Backend.Posix = map[string]any{
				"path":          t.TempDir(),
				"override_fsid": true,
				key:             "4294967301",
			}

			_, err := CreateBackend(context.Background(), cfg, nil)
			if err == nil {
				t.Fatalf("Expected error for %s wider than 32 bits", key)
			}
			if !strings.Contains(err.Error(), "max") {
				t.Errorf("Expected a validation error, got: %v", err)
			}
		})
	}
}
