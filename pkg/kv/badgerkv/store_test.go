package badgerkv

import (
	"context"
	"testing"

	"github.com/marmos91/fsal/pkg/kv"
	"github.com/marmos91/fsal/pkg/kv/kvtest"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	suite := &kvtest.StoreTestSuite{
		NewStore: func(t *testing.T) kv.Store {
			st, err := Open(context.Background(), Config{InMemory: true})
			require.NoError(t, err)
			return st
		},
	}
	suite.Run(t)
}

func TestBadgerStoreOnDisk(t *testing.T) {
	suite := &kvtest.StoreTestSuite{
		NewStore: func(t *testing.T) kv.Store {
			st, err := Open(context.Background(), Config{Path: t.TempDir()})
			require.NoError(t, err)
			return st
		},
	}
	suite.Run(t)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
