package boltkv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/fsal/pkg/kv"
	"github.com/marmos91/fsal/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore(t *testing.T) {
	suite := &kvtest.StoreTestSuite{
		NewStore: func(t *testing.T) kv.Store {
			st, err := Open(context.Background(), Config{
				Path:   filepath.Join(t.TempDir(), "meta", "volume.db"),
				NoSync: true,
			})
			require.NoError(t, err)
			return st
		},
	}
	suite.Run(t)
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "volume.db")

	st, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		return txn.Set([]byte("sb"), []byte("superblock"))
	}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		v, err := txn.Get([]byte("sb"))
		require.NoError(t, err)
		assert.Equal(t, "superblock", string(v))
		return nil
	}))
}
