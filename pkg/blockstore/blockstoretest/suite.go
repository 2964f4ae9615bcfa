// Package blockstoretest is a conformance suite for blockstore.Store
// implementations.
package blockstoretest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the blockstore.Store contract.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test
	NewStore func(t *testing.T) blockstore.Store
}

// Run executes all tests in the suite.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", s.testPutGet)
	t.Run("Missing", s.testMissing)
	t.Run("IdempotentPut", s.testIdempotentPut)
	t.Run("Delete", s.testDelete)
	t.Run("LargeCompressibleBlock", s.testLargeBlock)
	t.Run("ConcurrentPuts", s.testConcurrentPuts)
	t.Run("List", s.testList)
}

func (s *StoreTestSuite) open(t *testing.T) blockstore.Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func (s *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	data := []byte("hello block")
	id, err := blockstore.PutData(ctx, st, data)
	require.NoError(t, err)
	assert.Equal(t, blockstore.Sum(data), id)

	ok, err := st.Has(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got[0] = 'X'
	again, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, again, "returned bytes are a copy")
}

func (s *StoreTestSuite) testMissing(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)
	id := blockstore.Sum([]byte("never stored"))

	ok, err := st.Has(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, blockstore.ErrBlockNotFound)

	assert.NoError(t, st.Delete(ctx, id))
}

func (s *StoreTestSuite) testIdempotentPut(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)
	data := []byte("same bytes")
	id := blockstore.Sum(data)

	require.NoError(t, st.Put(ctx, id, data))
	require.NoError(t, st.Put(ctx, id, data))

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func (s *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	id, err := blockstore.PutData(ctx, st, []byte("short lived"))
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, id))

	ok, err := st.Has(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *StoreTestSuite) testLargeBlock(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	data := bytes.Repeat([]byte("abcdefgh"), 16*1024)
	id, err := blockstore.PutData(ctx, st, data)
	require.NoError(t, err)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func (s *StoreTestSuite) testConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte{byte(i % 4), 1, 2, 3}
			_, err := blockstore.PutData(ctx, st, data)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		data := []byte{byte(i), 1, 2, 3}
		got, err := st.Get(ctx, blockstore.Sum(data))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func (s *StoreTestSuite) testList(t *testing.T) {
	ctx := context.Background()
	st := s.open(t)

	var want []blockstore.ID
	for _, data := range []string{"one", "two", "three"} {
		id, err := blockstore.PutData(ctx, st, []byte(data))
		require.NoError(t, err)
		want = append(want, id)
	}
	require.NoError(t, st.Delete(ctx, want[2]))
	want = want[:2]

	var got []blockstore.ID
	err := blockstore.List(ctx, st, func(id blockstore.ID) error {
		got = append(got, id)
		return nil
	})
	if errors.Is(err, blockstore.ErrListUnsupported) {
		t.Skip("store cannot list blocks")
	}
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
}
