package blockstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/blockstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	op    string
	bytes int
	err   error
}

type recorder struct {
	mu  sync.Mutex
	ops []recorded
}

func (r *recorder) RecordOperation(op string, _ time.Duration, bytes int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recorded{op: op, bytes: bytes, err: err})
}

func TestInstrumented(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := blockstore.NewInstrumented(memory.New(), rec)

	id, err := blockstore.PutData(ctx, s, []byte("hello"))
	require.NoError(t, err)
	_, err = s.Get(ctx, id)
	require.NoError(t, err)
	_, err = s.Get(ctx, blockstore.Sum([]byte("missing")))
	require.ErrorIs(t, err, blockstore.ErrBlockNotFound)
	require.NoError(t, s.Delete(ctx, id))

	require.Len(t, rec.ops, 5)
	assert.Equal(t, recorded{op: "has"}, rec.ops[0])
	assert.Equal(t, recorded{op: "put", bytes: 5}, rec.ops[1])
	assert.Equal(t, recorded{op: "get", bytes: 5}, rec.ops[2])
	assert.Equal(t, "get", rec.ops[3].op)
	assert.ErrorIs(t, rec.ops[3].err, blockstore.ErrBlockNotFound)
	assert.Equal(t, recorded{op: "delete"}, rec.ops[4])
}

func TestInstrumentedNilMetrics(t *testing.T) {
	inner := memory.New()
	assert.Same(t, inner, blockstore.NewInstrumented(inner, nil))
}
