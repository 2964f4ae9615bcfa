// Package boltkv implements kv.Store on top of bbolt.
//
// All keys live in a single bucket; bbolt keeps keys sorted, so prefix
// scans are cursor seeks.
package boltkv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/fsal/pkg/kv"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("fsal")

// Config configures a bolt store.
type Config struct {
	// Path is the database file
	Path string `mapstructure:"path"`

	// Timeout bounds waiting for the file lock (default: 1s)
	Timeout time.Duration `mapstructure:"timeout"`

	// NoSync skips fsync after each commit (tests only)
	NoSync bool `mapstructure:"no_sync"`
}

// Store is a kv.Store backed by a bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a bolt database file.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %q: %w", cfg.Path, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %q: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) View(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&txn{b: tx.Bucket(bucketName), readOnly: true})
	})
}

func (s *Store) Update(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{b: tx.Bucket(bucketName)})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

type txn struct {
	b        *bolt.Bucket
	readOnly bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	v := t.b.Get(key)
	if v == nil {
		return nil, kv.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *txn) Set(key, value []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	// bolt treats a nil value as missing on Get
	if value == nil {
		value = []byte{}
	}
	return t.b.Put(key, value)
}

func (t *txn) Delete(key []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	return t.b.Delete(key)
}

func (t *txn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	c := t.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(bytes.Clone(k), bytes.Clone(v)) {
			return nil
		}
	}
	return nil
}
