// Package export is the entry point surface the protocol core calls.
//
// An Export ties together the mount registry, the handle codec and the
// extended-attribute overlay of one exported filesystem. Every call takes
// a handle, re-derives the mounted backend instance from the handle's
// snapshot tag, and translates the result back into handles and generic
// attributes.
//
// Objects inside snapshot instances are read-only: every mutating entry
// point checks the snapshot tag before touching a backend.
package export

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/internal/ratelimiter"
	"github.com/marmos91/fsal/pkg/extattr"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
	"github.com/marmos91/fsal/pkg/metrics"
	"github.com/marmos91/fsal/pkg/registry"
)

// DefaultPseudoDirName is the name of the synthetic snapshot directory in
// the export root.
const DefaultPseudoDirName = ".snapshots"

// PseudoInode is the file id reserved for the snapshot directory.
const PseudoInode = 2

// Options configure an Export.
type Options struct {
	// Name labels the export in logs and metrics (default: live backend name)
	Name string

	// PseudoDirName overrides DefaultPseudoDirName
	PseudoDirName string

	// FollowJunctions lets LookupPath descend into junctions
	FollowJunctions bool

	// FormatXattrValues renders real extended attribute values as text
	FormatXattrValues bool

	// Identity maps caller credentials before any backend call
	Identity IdentityMapping

	// ReadBytesPerSecond and WriteBytesPerSecond throttle sessions (0 = unlimited)
	ReadBytesPerSecond  uint64
	WriteBytesPerSecond uint64

	// Metrics receives operation metrics (nil = disabled)
	Metrics metrics.ExportMetrics
}

// Export serves one exported filesystem: a live backend instance plus any
// number of mounted snapshot instances.
//
// Thread Safety:
// Safe for concurrent use. The registry guards the mount table; the
// export's own lock only covers the session table and the root cache, and
// is never held across a backend call.
type Export struct {
	name    string
	reg     *registry.Registry
	codec   *handle.Codec
	overlay *extattr.Overlay
	opts    Options
	metrics metrics.ExportMetrics

	readLimit  *ratelimiter.RateLimiter
	writeLimit *ratelimiter.RateLimiter

	mu       sync.Mutex
	roots    map[uint32]fsal.Object
	sessions map[string]map[*Session]struct{}
	open     int
}

// New creates an export over the mounts of reg.
//
// The handle codec is sized from the live backend; every snapshot instance
// must use the same fsid type and object size.
//
// Returns:
//   - *Export: The export
//   - error: If the codec cannot be built or a snapshot is incompatible
func New(reg *registry.Registry, opts Options) (*Export, error) {
	if reg == nil {
		return nil, fmt.Errorf("export: registry is required")
	}
	live := reg.Live().Backend

	codec, err := handle.NewCodec(live.FSID().Type, live.ObjectSize())
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	if opts.PseudoDirName == "" {
		opts.PseudoDirName = DefaultPseudoDirName
	}
	if opts.Name == "" {
		opts.Name = live.Name()
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopExportMetrics()
	}

	e := &Export{
		name:       opts.Name,
		reg:        reg,
		codec:      codec,
		overlay:    extattr.New(extattr.Options{FormatValues: opts.FormatXattrValues}),
		opts:       opts,
		metrics:    m,
		readLimit:  ratelimiter.New(opts.ReadBytesPerSecond, 0),
		writeLimit: ratelimiter.New(opts.WriteBytesPerSecond, 0),
		roots:      make(map[uint32]fsal.Object),
		sessions:   make(map[string]map[*Session]struct{}),
	}

	for _, snap := range reg.Snapshots() {
		if err := e.checkCompatible(snap.Label, snap.Backend); err != nil {
			return nil, err
		}
	}
	e.metrics.SetMountedSnapshots(len(reg.Snapshots()))

	logger.Info("export %q: %d snapshot(s), handle size %d, pseudo dir %q",
		e.name, len(reg.Snapshots()), codec.Size(), opts.PseudoDirName)
	return e, nil
}

// Name returns the export label.
func (e *Export) Name() string { return e.name }

// Codec returns the handle codec of the export.
func (e *Export) Codec() *handle.Codec { return e.codec }

// Registry returns the mount registry of the export.
func (e *Export) Registry() *registry.Registry { return e.reg }

// AddSnapshot mounts a snapshot instance and makes it visible in the
// pseudo directory.
func (e *Export) AddSnapshot(label string, backend fsal.Backend) (*registry.Mount, error) {
	if err := e.checkCompatible(label, backend); err != nil {
		return nil, err
	}
	m, err := e.reg.AddSnapshot(label, backend)
	if err != nil {
		return nil, err
	}
	e.metrics.SetMountedSnapshots(len(e.reg.Snapshots()))
	return m, nil
}

func (e *Export) checkCompatible(label string, b fsal.Backend) error {
	if b.ObjectSize() != e.codec.ObjectSize() || b.FSID().Type != e.codec.FSIDType() {
		return fsal.NewError(fsal.ErrInvalid, label,
			"snapshot uses %s/%d-byte objects, export uses %s/%d",
			b.FSID().Type, b.ObjectSize(), e.codec.FSIDType(), e.codec.ObjectSize())
	}
	return nil
}

// Shutdown closes open sessions and unmounts every instance.
func (e *Export) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	var open []*Session
	for _, set := range e.sessions {
		for s := range set {
			open = append(open, s)
		}
	}
	e.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil {
			logger.Warn("export %q: closing session %s: %v", e.name, s.ID(), err)
		}
	}
	return e.reg.Shutdown(ctx)
}

// ============================================================================
// Internal helpers
// ============================================================================

// observe records the outcome of one entry point. It is deferred with a
// pointer to the named error result.
func (e *Export) observe(op string, start time.Time, errp *error) {
	err := *errp
	e.metrics.RecordOperation(op, time.Since(start), err)
	if err != nil && !fsal.IsCode(err, fsal.ErrNotFound) {
		logger.Debug("export %q: %s: %v", e.name, op, err)
	}
}

// checkMutable is the mutation barrier. Snapshot objects and the pseudo
// directory are never modified.
func checkMutable(hs ...handle.Handle) error {
	for _, h := range hs {
		if h.Snapshot != 0 || h.Kind == handle.KindPseudoDir {
			return fsal.NewError(fsal.ErrReadOnlyFileSystem, "", "%s is in a read-only snapshot", h)
		}
	}
	return nil
}

// mountOf returns the mounted instance holding h.
func (e *Export) mountOf(h handle.Handle) (*registry.Mount, error) {
	if len(h.Object) != e.codec.ObjectSize() {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "handle object is %d bytes, expected %d", len(h.Object), e.codec.ObjectSize())
	}
	m, err := e.reg.Resolve(h.Snapshot)
	if err != nil {
		if fsal.IsCode(err, fsal.ErrNotFound) {
			return nil, fsal.NewError(fsal.ErrStale, "", "snapshot %d is not mounted", h.Snapshot)
		}
		return nil, err
	}
	return m, nil
}

// canonical replaces a dummy handle with the live root.
func (e *Export) canonical(actx *fsal.AuthContext, h handle.Handle) (handle.Handle, error) {
	if h.Kind != handle.KindDummy {
		return h, nil
	}
	if h.FSID != e.reg.Live().Backend.FSID() {
		return handle.Handle{}, fsal.NewError(fsal.ErrStale, "", "dummy handle for foreign filesystem %s", h.FSID)
	}
	root, _, err := e.root(actx)
	return root, err
}

// rootObject returns the root object of m. Roots never change, so they
// are cached per mount.
func (e *Export) rootObject(actx *fsal.AuthContext, m *registry.Mount) (fsal.Object, error) {
	e.mu.Lock()
	obj, ok := e.roots[m.Index]
	e.mu.Unlock()
	if ok {
		return obj, nil
	}

	obj, _, err := m.Backend.Root(actx)
	if err != nil {
		return fsal.Object{}, err
	}
	e.mu.Lock()
	e.roots[m.Index] = obj
	e.mu.Unlock()
	return obj, nil
}

// isRoot reports whether obj is the root of m.
func (e *Export) isRoot(actx *fsal.AuthContext, m *registry.Mount, obj fsal.Object) (bool, error) {
	root, err := e.rootObject(actx, m)
	if err != nil {
		return false, err
	}
	return root.Same(obj), nil
}

// handleOf builds the handle of a backend object in m.
func (e *Export) handleOf(m *registry.Mount, obj fsal.Object) handle.Handle {
	return handle.FromObject(obj, m.Backend.FSID(), m.Index)
}

func (e *Export) attrsOf(m *registry.Mount, st *fsal.NativeStat) fsal.Attributes {
	return fsal.ToGeneric(st, m.Backend.FSID())
}

// pseudoHandle returns the handle of the snapshot directory. Its object
// carries PseudoInode in the trailing bytes.
func (e *Export) pseudoHandle() handle.Handle {
	obj := make([]byte, e.codec.ObjectSize())
	var ino [8]byte
	binary.BigEndian.PutUint64(ino[:], PseudoInode)
	n := min(len(obj), len(ino))
	copy(obj[len(obj)-n:], ino[len(ino)-n:])

	return handle.Handle{
		Kind:   handle.KindPseudoDir,
		FSID:   e.reg.Live().Backend.FSID(),
		Object: obj,
	}
}

// pseudoAttrs synthesizes the attributes of the snapshot directory from
// the live root.
func (e *Export) pseudoAttrs(actx *fsal.AuthContext) (fsal.Attributes, error) {
	live := e.reg.Live()
	root, err := e.rootObject(actx, live)
	if err != nil {
		return fsal.Attributes{}, err
	}
	st, err := live.Backend.Getattr(actx, root)
	if err != nil {
		return fsal.Attributes{}, err
	}

	st.Mode = fsal.ModeDirectory | 0o555
	st.Ino = PseudoInode
	st.Nlink = 2 + uint32(len(e.reg.Snapshots()))
	st.Size = 0
	st.Blocks = 0

	return e.attrsOf(live, &st), nil
}

// withMask restricts attrs to the requested attributes. A zero mask keeps
// everything.
func withMask(attrs fsal.Attributes, mask fsal.AttrMask) fsal.Attributes {
	if mask != 0 {
		attrs.Mask &= mask
	}
	return attrs
}
