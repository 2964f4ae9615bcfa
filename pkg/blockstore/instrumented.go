package blockstore

import (
	"context"
	"time"

	"github.com/marmos91/fsal/pkg/metrics"
)

// Instrumented reports every call of the wrapped store to m.
type Instrumented struct {
	inner Store
	m     metrics.BlockStoreMetrics
}

// NewInstrumented wraps inner. A nil m returns inner unchanged.
func NewInstrumented(inner Store, m metrics.BlockStoreMetrics) Store {
	if m == nil {
		return inner
	}
	return &Instrumented{inner: inner, m: m}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() Store { return s.inner }

func (s *Instrumented) Put(ctx context.Context, id ID, data []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, id, data)
	s.m.RecordOperation("put", time.Since(start), len(data), err)
	return err
}

func (s *Instrumented) Get(ctx context.Context, id ID) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Get(ctx, id)
	s.m.RecordOperation("get", time.Since(start), len(data), err)
	return data, err
}

func (s *Instrumented) Has(ctx context.Context, id ID) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Has(ctx, id)
	s.m.RecordOperation("has", time.Since(start), 0, err)
	return ok, err
}

func (s *Instrumented) Delete(ctx context.Context, id ID) error {
	start := time.Now()
	err := s.inner.Delete(ctx, id)
	s.m.RecordOperation("delete", time.Since(start), 0, err)
	return err
}

func (s *Instrumented) Close() error {
	return s.inner.Close()
}
