// Package registry tracks the backend instances mounted for one export:
// the live writable instance and any read-only snapshot instances.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/fsal"
)

// Mount is one mounted backend instance.
//
// Index is the snapshot tag carried by every handle of objects inside the
// instance: 0 for the live instance, 1.. for snapshots in mount order.
// Entries are immutable once added.
type Mount struct {
	Index     uint32
	Label     string
	Backend   fsal.Backend
	MountedAt time.Time
}

// IsSnapshot reports whether m is a snapshot instance.
func (m *Mount) IsSnapshot() bool {
	return m.Index != 0
}

// Registry is the table of mounted backend instances.
//
// Entries are append-only: indexes are never reused while the registry is
// alive, so a snapshot tag stays valid for the lifetime of the process.
//
// Thread Safety:
// Lookups take the read lock for the duration of the table scan only and
// return the entry; backend calls on the entry happen outside the lock.
// AddSnapshot and Shutdown take the write lock, and Shutdown releases it
// before unmounting anything.
type Registry struct {
	mu     sync.RWMutex
	mounts []*Mount
	closed bool
}

// New creates a registry whose live instance (index 0) is live.
func New(live fsal.Backend) *Registry {
	return &Registry{
		mounts: []*Mount{{
			Index:     0,
			Label:     live.Name(),
			Backend:   live,
			MountedAt: time.Now(),
		}},
	}
}

// AddSnapshot registers a mounted snapshot instance under label.
//
// The new entry gets the next free index. Returns ErrAlreadyExists if a
// snapshot with the same label is already registered and ErrInvalid for an
// empty label or a writable backend.
func (r *Registry) AddSnapshot(label string, backend fsal.Backend) (*Mount, error) {
	if label == "" {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "snapshot label cannot be empty")
	}
	if backend == nil {
		return nil, fsal.NewError(fsal.ErrInvalid, label, "cannot register nil backend")
	}
	if !backend.ReadOnly() {
		return nil, fsal.NewError(fsal.ErrInvalid, label, "snapshot backend must be read-only")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fsal.NewError(fsal.ErrStale, label, "registry is shut down")
	}

	for _, m := range r.mounts[1:] {
		if m.Label == label {
			return nil, fsal.NewError(fsal.ErrAlreadyExists, label, "snapshot already mounted as %d", m.Index)
		}
	}

	m := &Mount{
		Index:     uint32(len(r.mounts)),
		Label:     label,
		Backend:   backend,
		MountedAt: time.Now(),
	}
	r.mounts = append(r.mounts, m)

	logger.Info("registry: mounted snapshot %q as %d", label, m.Index)
	return m, nil
}

// Resolve returns the instance addressed by a snapshot tag.
//
// Tag 0 is always the live instance. Returns ErrNotFound for a tag that
// was never assigned.
func (r *Registry) Resolve(tag uint32) (*Mount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fsal.NewError(fsal.ErrStale, "", "registry is shut down")
	}
	if tag == 0 {
		return r.mounts[0], nil
	}

	for _, m := range r.mounts[1:] {
		if m.Index == tag {
			return m, nil
		}
	}
	return nil, fsal.NewError(fsal.ErrNotFound, "", "no mounted instance with tag %d", tag)
}

// LookupPseudoDirEntry returns the tag of the snapshot called name. Only
// snapshot entries are considered; the live instance is not a pseudo
// directory entry.
func (r *Registry) LookupPseudoDirEntry(name string) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts[1:] {
		if m.Label == name {
			return m.Index, nil
		}
	}
	return 0, fsal.NewError(fsal.ErrNotFound, name, "no such snapshot")
}

// Live returns the live instance.
func (r *Registry) Live() *Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mounts[0]
}

// Snapshots returns the snapshot entries in index order.
// The returned slice is a copy and safe to modify.
func (r *Registry) Snapshots() []*Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Mount, len(r.mounts)-1)
	copy(out, r.mounts[1:])
	return out
}

// Len returns the number of mounted instances, live included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

// Shutdown unmounts every instance in reverse order of mounting: snapshots
// first, newest first, then the live instance.
//
// Every instance is unmounted even if some fail; the failures are joined
// into the returned error. ctx bounds the whole sequence: instances not
// reached before it is done are reported as not unmounted.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	mounts := r.mounts
	r.mu.Unlock()

	var errs []error
	for i := len(mounts) - 1; i >= 0; i-- {
		m := mounts[i]

		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("unmount %q skipped: %w", m.Label, err))
			continue
		}

		if err := m.Backend.Unmount(); err != nil {
			logger.Error("registry: unmount %q failed: %v", m.Label, err)
			errs = append(errs, fmt.Errorf("unmount %q: %w", m.Label, err))
			continue
		}
		logger.Debug("registry: unmounted %q", m.Label)
	}

	return errors.Join(errs...)
}
