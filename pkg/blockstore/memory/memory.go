// Package memory implements an in-memory block store.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/fsal/pkg/blockstore"
)

// Store keeps blocks in a map. Contents are lost on Close.
//
// Thread Safety:
// All methods are guarded by an RWMutex.
type Store struct {
	mu     sync.RWMutex
	blocks map[blockstore.ID][]byte
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{blocks: make(map[blockstore.ID][]byte)}
}

func (s *Store) Put(ctx context.Context, id blockstore.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memory block store is closed")
	}
	if _, exists := s.blocks[id]; exists {
		return nil
	}
	s.blocks[id] = bytes.Clone(data)
	return nil
}

func (s *Store) Get(ctx context.Context, id blockstore.ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, blockstore.ErrBlockNotFound)
	}
	return bytes.Clone(data), nil
}

func (s *Store) Has(ctx context.Context, id blockstore.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blocks[id]
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, id blockstore.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocks, id)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.blocks = make(map[blockstore.ID][]byte)
	return nil
}

// Len returns the number of stored blocks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// List reports the ids present when it is called.
func (s *Store) List(ctx context.Context, fn func(id blockstore.ID) error) error {
	s.mu.RLock()
	ids := make([]blockstore.ID, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}
