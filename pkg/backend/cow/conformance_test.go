package cow_test

import (
	"context"
	"testing"

	"github.com/marmos91/fsal/pkg/backend/cow"
	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/blockstore/memory"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/fsaltest"
	"github.com/marmos91/fsal/pkg/kv/badgerkv"
	"github.com/marmos91/fsal/pkg/kv/boltkv"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	mount := func(t *testing.T, vol *cow.Volume) fsal.Backend {
		t.Cleanup(func() { _ = vol.Close() })
		ds, err := vol.Mount(context.Background(), "")
		require.NoError(t, err)
		return ds
	}

	t.Run("Badger", func(t *testing.T) {
		suite := &fsaltest.BackendTestSuite{
			NewBackend: func(t *testing.T) fsal.Backend {
				ctx := context.Background()
				store, err := badgerkv.Open(ctx, badgerkv.Config{InMemory: true})
				require.NoError(t, err)
				vol, err := cow.Open(ctx, store, memory.New(), cow.Options{RecordSize: 512})
				require.NoError(t, err)
				return mount(t, vol)
			},
		}
		suite.Run(t)
	})

	t.Run("BoltCompressed", func(t *testing.T) {
		suite := &fsaltest.BackendTestSuite{
			NewBackend: func(t *testing.T) fsal.Backend {
				ctx := context.Background()
				store, err := boltkv.Open(ctx, boltkv.Config{Path: t.TempDir() + "/meta.db", NoSync: true})
				require.NoError(t, err)
				blocks, err := blockstore.NewCompressed(memory.New(), "zstd")
				require.NoError(t, err)
				vol, err := cow.Open(ctx, store, blocks, cow.Options{Name: "bolt"})
				require.NoError(t, err)
				return mount(t, vol)
			},
		}
		suite.Run(t)
	})
}
