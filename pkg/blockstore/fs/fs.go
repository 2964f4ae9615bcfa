// Package fs implements a block store on the local filesystem.
//
// Blocks are stored as one file each, sharded by the first byte of the id:
//
//	<root>/ab/ab12cd...ef
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/fsal/pkg/blockstore"
)

// Store is a directory of block files.
type Store struct {
	root string
}

// New creates (if needed) root and returns a store rooted there.
func New(ctx context.Context, root string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("filesystem block store: path is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create block directory %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(id blockstore.ID) string {
	name := id.String()
	return filepath.Join(s.root, name[:2], name)
}

// Put writes the block to a temporary file and renames it into place, so
// a reader never sees a partial block.
func (s *Store) Put(ctx context.Context, id blockstore.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := s.path(id)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp block: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write block %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync block %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close block %s: %w", id, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit block %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id blockstore.ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("block %s: %w", id, blockstore.ErrBlockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", id, err)
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, id blockstore.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat block %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id blockstore.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete block %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// List walks the shard directories. Files that are not named by a block
// id (interrupted temporary files) are skipped.
func (s *Store) List(ctx context.Context, fn func(id blockstore.ID) error) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to list block directory: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return fmt.Errorf("failed to list shard %s: %w", shard.Name(), err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := blockstore.ParseID(e.Name())
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}
