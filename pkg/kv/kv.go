// Package kv is the ordered key/value abstraction the copy-on-write
// volume keeps its metadata in.
//
// Two engines implement it: badgerkv (dgraph-io/badger) and boltkv
// (go.etcd.io/bbolt). Both provide serializable transactions and ordered
// prefix scans, which is all the volume relies on.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Txn.Get for a missing key.
//
// Implementations may wrap it; callers check with errors.Is.
var ErrNotFound = errors.New("kv: key not found")

// ErrReadOnly is returned when a read-only transaction tries to write.
var ErrReadOnly = errors.New("kv: read-only transaction")

// Store is an ordered key/value store with transactions.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Transactions passed to
// fn must not be used after fn returns.
type Store interface {
	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(Txn) error) error

	// Update runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and is discarded otherwise.
	Update(ctx context.Context, fn func(Txn) error) error

	// Close releases the store
	Close() error
}

// Txn is one transaction.
//
// Byte slices returned by Get and passed to Scan callbacks are owned by the
// caller and stay valid after the transaction ends.
type Txn interface {
	// Get returns the value of key or ErrNotFound
	Get(key []byte) ([]byte, error)

	// Set stores value under key
	Set(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Scan calls fn for every key starting with prefix in ascending key
	// order until fn returns false. fn must not write to the transaction.
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

// CopyPrefix copies every key under src to the same key with src replaced
// by dst and returns the number of keys copied.
func CopyPrefix(txn Txn, src, dst []byte) (int, error) {
	type pair struct{ k, v []byte }
	var pairs []pair

	err := txn.Scan(src, func(key, value []byte) bool {
		nk := make([]byte, 0, len(dst)+len(key)-len(src))
		nk = append(nk, dst...)
		nk = append(nk, key[len(src):]...)
		pairs = append(pairs, pair{nk, value})
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, p := range pairs {
		if err := txn.Set(p.k, p.v); err != nil {
			return 0, err
		}
	}
	return len(pairs), nil
}

// DeletePrefix removes every key under prefix and returns how many keys
// were removed.
func DeletePrefix(txn Txn, prefix []byte) (int, error) {
	var keys [][]byte
	err := txn.Scan(prefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
