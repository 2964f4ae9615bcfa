// Package blockstore stores the immutable data blocks of copy-on-write
// volumes.
//
// Blocks are content-addressed: the id of a block is the BLAKE3 hash of its
// uncompressed bytes. A block is written once and never modified, which
// lets the live dataset and every snapshot share blocks freely.
package blockstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// IDSize is the length of a block id in bytes.
const IDSize = 32

// ID identifies a block by content.
type ID [IDSize]byte

// Sum returns the id of data.
func Sum(data []byte) ID {
	return ID(blake3.Sum256(data))
}

// String returns the hex form of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero id, used for holes.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes a hex block id.
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid block id %q: %w", s, err)
	}
	if len(raw) != IDSize {
		return id, fmt.Errorf("invalid block id %q: %d bytes", s, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ErrBlockNotFound is returned by Get for an unknown block.
var ErrBlockNotFound = errors.New("block not found")

// Store is an immutable block store.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Putting the same id
// twice is allowed and must leave the block unchanged.
type Store interface {
	// Put stores data under id. The caller guarantees id == Sum(data).
	Put(ctx context.Context, id ID, data []byte) error

	// Get returns the bytes of block id or ErrBlockNotFound
	Get(ctx context.Context, id ID) ([]byte, error)

	// Has reports whether block id exists
	Has(ctx context.Context, id ID) (bool, error)

	// Delete removes block id. Deleting a missing block is not an error.
	Delete(ctx context.Context, id ID) error

	// Close releases the store
	Close() error
}

// PutData stores data and returns its id, skipping the write when the
// block already exists.
func PutData(ctx context.Context, s Store, data []byte) (ID, error) {
	id := Sum(data)
	ok, err := s.Has(ctx, id)
	if err != nil {
		return id, err
	}
	if ok {
		return id, nil
	}
	return id, s.Put(ctx, id, data)
}

// Lister is implemented by stores that can enumerate their blocks.
type Lister interface {
	// List calls fn for every stored block. Blocks put or deleted while
	// List runs may or may not be reported.
	List(ctx context.Context, fn func(id ID) error) error
}

// ErrListUnsupported is returned by List for a store that cannot
// enumerate its blocks.
var ErrListUnsupported = errors.New("block store cannot list blocks")

// List enumerates the blocks of s, looking through wrappers that expose
// Unwrap.
func List(ctx context.Context, s Store, fn func(id ID) error) error {
	l := lister(s)
	if l == nil {
		return ErrListUnsupported
	}
	return l.List(ctx, fn)
}

// CanList reports whether List works on s.
func CanList(s Store) bool {
	return lister(s) != nil
}

func lister(s Store) Lister {
	for s != nil {
		if l, ok := s.(Lister); ok {
			return l
		}
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}
