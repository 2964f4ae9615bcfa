// Package kvtest is a conformance suite for kv.Store implementations.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marmos91/fsal/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the kv.Store contract.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &kvtest.StoreTestSuite{
//	        NewStore: func(t *testing.T) kv.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test
	NewStore func(t *testing.T) kv.Store
}

// Run executes all tests in the suite.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("GetSetDelete", s.testGetSetDelete)
	t.Run("Scan", s.testScan)
	t.Run("Rollback", s.testRollback)
	t.Run("ReadOnlyView", s.testReadOnlyView)
	t.Run("CopyAndDeletePrefix", s.testCopyAndDeletePrefix)
	t.Run("CancelledContext", s.testCancelledContext)
}

func (s *StoreTestSuite) open(t *testing.T) kv.Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func (s *StoreTestSuite) testGetSetDelete(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		return txn.Set([]byte("a"), []byte("1"))
	}))

	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		v, err := txn.Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		_, err = txn.Get([]byte("missing"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		if err := txn.Delete([]byte("a")); err != nil {
			return err
		}
		return txn.Delete([]byte("never-existed"))
	}))

	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		_, err := txn.Get([]byte("a"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
		return nil
	}))
}

func (s *StoreTestSuite) testScan(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		for _, k := range []string{"d/2/b", "d/1/z", "d/1/a", "d/10/x", "e/1", "d/1/m"} {
			if err := txn.Set([]byte(k), []byte("v:"+k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var keys []string
	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		return txn.Scan([]byte("d/1/"), func(k, v []byte) bool {
			keys = append(keys, string(k))
			assert.Equal(t, "v:"+string(k), string(v))
			return true
		})
	}))
	assert.Equal(t, []string{"d/1/a", "d/1/m", "d/1/z"}, keys)

	keys = nil
	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		return txn.Scan([]byte("d/"), func(k, _ []byte) bool {
			keys = append(keys, string(k))
			return len(keys) < 2
		})
	}))
	assert.Equal(t, []string{"d/1/a", "d/1/m"}, keys, "scan stops when fn returns false")
}

func (s *StoreTestSuite) testRollback(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)
	boom := errors.New("boom")

	err := st.Update(ctx, func(txn kv.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		_, err := txn.Get([]byte("k"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
		return nil
	}))
}

func (s *StoreTestSuite) testReadOnlyView(t *testing.T) {
	st := s.open(t)

	err := st.View(context.Background(), func(txn kv.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	assert.Error(t, err)
}

func (s *StoreTestSuite) testCopyAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		for i := 0; i < 5; i++ {
			if err := txn.Set([]byte(fmt.Sprintf("i/0/%d", i)), []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		n, err := kv.CopyPrefix(txn, []byte("i/0/"), []byte("i/7/"))
		assert.Equal(t, 5, n)
		return err
	}))

	require.NoError(t, st.Update(ctx, func(txn kv.Txn) error {
		n, err := kv.DeletePrefix(txn, []byte("i/0/"))
		assert.Equal(t, 5, n)
		return err
	}))

	require.NoError(t, st.View(ctx, func(txn kv.Txn) error {
		v, err := txn.Get([]byte("i/7/3"))
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, v)

		_, err = txn.Get([]byte("i/0/3"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
		return nil
	}))
}

func (s *StoreTestSuite) testCancelledContext(t *testing.T) {
	st := s.open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := st.Update(ctx, func(kv.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
