package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/blockstore/blockstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore(t *testing.T) {
	suite := &blockstoretest.StoreTestSuite{
		NewStore: func(t *testing.T) blockstore.Store {
			st, err := New(context.Background(), filepath.Join(t.TempDir(), "blocks"))
			require.NoError(t, err)
			return st
		},
	}
	suite.Run(t)
}

func TestFSStoreLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := New(ctx, root)
	require.NoError(t, err)

	id, err := blockstore.PutData(ctx, st, []byte("sharded"))
	require.NoError(t, err)

	name := id.String()
	_, err = os.Stat(filepath.Join(root, name[:2], name))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, name[:2]))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFSStoreRequiresPath(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}
