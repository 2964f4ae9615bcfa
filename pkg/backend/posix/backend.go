//go:build linux

// Package posix implements the live backend on top of a local directory
// tree.
//
// Objects are identified by the kernel's persistent file handles
// (name_to_handle_at), which survive renames and server restarts. When
// the filesystem does not export handles the backend falls back to a
// device+inode identity. Handles are mapped back to paths through an
// in-memory path cache; when an entry is missing or no longer matches and
// the process may call open_by_handle_at, the kernel resolves the handle
// instead.
package posix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/fsal"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sys/unix"
)

// Config configures a POSIX backend.
type Config struct {
	// Path is the exported directory
	Path string `mapstructure:"path" validate:"required"`

	// Name is the label of the instance (default: base name of Path)
	Name string `mapstructure:"name"`

	// FSIDMajor and FSIDMinor replace the statfs filesystem id when
	// OverrideFSID is set. Both are packed as 32-bit values.
	OverrideFSID bool   `mapstructure:"override_fsid"`
	FSIDMajor    uint64 `mapstructure:"fsid_major" validate:"max=4294967295"`
	FSIDMinor    uint64 `mapstructure:"fsid_minor" validate:"max=4294967295"`

	// DisableHandles forces the device+inode identity
	DisableHandles bool `mapstructure:"disable_handles"`

	// PathCacheTTL expires path cache entries (0 = never)
	PathCacheTTL time.Duration `mapstructure:"path_cache_ttl"`
}

// Identity layouts of Object.ID.
//
// handle mode:  [mount id:4][handle type:4][len:1][handle bytes, zero padded]
// inode mode:   [dev:8][ino:8]
const (
	handleHeader   = 9
	minHandleBytes = 16
	maxHandleBytes = 32
	inodeIDSize    = 16

	// inodeHandleType marks an inode identity stored in handle layout, for
	// objects on filesystems that refuse handles (junction targets).
	inodeHandleType = 0xffffffff
)

// pathEntry records how an object was reached: its parent and name, or an
// absolute path when the kernel resolved it.
type pathEntry struct {
	parent string
	name   string
	abs    string
	ino    uint64
}

// Backend is a POSIX directory exported as an fsal.Backend.
//
// Thread Safety:
// Safe for concurrent use. The path cache is internally synchronized and
// every other field is immutable after New.
type Backend struct {
	root     string
	name     string
	fsid     fsal.FSID
	rootDev  uint64
	rootKey  string
	rootFD   int
	asRoot   bool
	handles  bool
	byHandle bool
	capacity int
	paths    *cache.Cache
}

var _ fsal.Backend = (*Backend)(nil)

// New mounts the directory described by cfg.
//
// Returns:
//   - *Backend: The mounted backend
//   - error: If the directory is missing or cannot be inspected
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("posix: path is required")
	}
	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("posix: resolve %q: %w", cfg.Path, err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("posix: resolve %q: %w", cfg.Path, err)
	}

	st, err := lstat(root)
	if err != nil {
		return nil, fmt.Errorf("posix: stat %q: %w", root, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, fmt.Errorf("posix: %q is not a directory", root)
	}

	name := cfg.Name
	if name == "" {
		name = filepath.Base(root)
	}

	expiration := cfg.PathCacheTTL
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}

	b := &Backend{
		root:    root,
		name:    name,
		rootDev: unix.Mkdev(st.Dev_major, st.Dev_minor),
		asRoot:  os.Geteuid() == 0,
		paths:   cache.New(expiration, 10*time.Minute),
		rootFD:  -1,
	}

	if cfg.OverrideFSID {
		b.fsid = fsal.FSID{Type: fsal.FSIDTwoUint32, Major: cfg.FSIDMajor, Minor: cfg.FSIDMinor}
		if !b.fsid.Fits() {
			return nil, fmt.Errorf("posix: fsid %d.%d does not fit in 32 bits", cfg.FSIDMajor, cfg.FSIDMinor)
		}
	} else {
		var sfs unix.Statfs_t
		if err := unix.Statfs(root, &sfs); err != nil {
			return nil, fmt.Errorf("posix: statfs %q: %w", root, err)
		}
		b.fsid = fsal.FSID{
			Type:  fsal.FSIDTwoUint32,
			Major: uint64(uint32(sfs.Fsid.Val[0])),
			Minor: uint64(uint32(sfs.Fsid.Val[1])),
		}
	}

	if !cfg.DisableHandles {
		b.detectHandles()
	}

	rootID, err := b.identify(root, st)
	if err != nil {
		return nil, fmt.Errorf("posix: identify root: %w", err)
	}
	b.rootKey = string(rootID)

	mode := "inode"
	if b.handles {
		mode = "handle"
	}
	logger.Info("posix: mounted %q at %s (identity=%s, open_by_handle=%v, fsid=%s)", b.name, root, mode, b.byHandle, b.fsid)
	return b, nil
}

// detectHandles decides whether kernel file handles are usable for this
// tree and sizes the identity from the root's handle.
func (b *Backend) detectHandles() {
	h, _, err := unix.NameToHandleAt(unix.AT_FDCWD, b.root, 0)
	if err != nil {
		logger.Debug("posix: name_to_handle_at unavailable on %s: %v", b.root, err)
		return
	}
	size := len(h.Bytes())
	if size > maxHandleBytes {
		logger.Debug("posix: handle of %d bytes exceeds %d, using inode identity", size, maxHandleBytes)
		return
	}

	b.handles = true
	b.capacity = min(max((size+7)&^7+8, minHandleBytes), maxHandleBytes)

	fd, err := unix.Open(b.root, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	b.rootFD = fd

	reopened, err := unix.OpenByHandleAt(fd, h, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC)
	if err != nil {
		logger.Debug("posix: open_by_handle_at not permitted: %v", err)
		return
	}
	_ = unix.Close(reopened)
	b.byHandle = true
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) FSID() fsal.FSID { return b.fsid }

func (b *Backend) ObjectSize() int {
	if b.handles {
		return handleHeader + b.capacity
	}
	return inodeIDSize
}

func (b *Backend) BlockSize() uint32 { return 4096 }

func (b *Backend) ReadOnly() bool { return false }

// Unmount closes the handle-resolution descriptor and drops the path cache.
func (b *Backend) Unmount() error {
	b.paths.Flush()
	if b.rootFD >= 0 {
		fd := b.rootFD
		b.rootFD = -1
		return unix.Close(fd)
	}
	return nil
}

// ============================================================================
// Identity
// ============================================================================

// identify builds the object id of path.
func (b *Backend) identify(path string, st *unix.Statx_t) ([]byte, error) {
	if !b.handles {
		id := make([]byte, inodeIDSize)
		binary.BigEndian.PutUint64(id[0:8], unix.Mkdev(st.Dev_major, st.Dev_minor))
		binary.BigEndian.PutUint64(id[8:16], st.Ino)
		return id, nil
	}

	id := make([]byte, handleHeader+b.capacity)
	h, mountID, err := unix.NameToHandleAt(unix.AT_FDCWD, path, 0)
	if err == nil && len(h.Bytes()) <= b.capacity {
		binary.BigEndian.PutUint32(id[0:4], uint32(mountID))
		binary.BigEndian.PutUint32(id[4:8], uint32(h.Type()))
		id[8] = byte(len(h.Bytes()))
		copy(id[handleHeader:], h.Bytes())
		return id, nil
	}
	if err != nil && !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.EOVERFLOW) {
		return nil, err
	}

	binary.BigEndian.PutUint32(id[4:8], inodeHandleType)
	id[8] = 16
	binary.BigEndian.PutUint64(id[handleHeader:], unix.Mkdev(st.Dev_major, st.Dev_minor))
	binary.BigEndian.PutUint64(id[handleHeader+8:], st.Ino)
	return id, nil
}

// remember records how obj was reached so later calls can find its path.
func (b *Backend) remember(key, parent, name string, ino uint64) {
	if key == b.rootKey {
		return
	}
	b.paths.Set(key, pathEntry{parent: parent, name: name, ino: ino}, cache.DefaultExpiration)
}

// pathOf returns the current path of obj.
func (b *Backend) pathOf(obj fsal.Object) (string, error) {
	if len(obj.ID) != b.ObjectSize() {
		return "", fsal.NewError(fsal.ErrInvalid, "", "object id has %d bytes, expected %d", len(obj.ID), b.ObjectSize())
	}
	return b.resolveKey(string(obj.ID), 0)
}

const maxResolveDepth = 4096

func (b *Backend) resolveKey(key string, depth int) (string, error) {
	if key == b.rootKey {
		return b.root, nil
	}
	if depth > maxResolveDepth {
		return "", fsal.NewError(fsal.ErrStale, "", "path cache loop")
	}

	if v, ok := b.paths.Get(key); ok {
		e := v.(pathEntry)
		path := e.abs
		if path == "" {
			parent, err := b.resolveKey(e.parent, depth+1)
			if err == nil {
				path = filepath.Join(parent, e.name)
			}
		}
		if path != "" {
			if st, err := lstat(path); err == nil && st.Ino == e.ino {
				return path, nil
			}
		}
		b.paths.Delete(key)
	}

	return b.openByHandle(key)
}

// openByHandle asks the kernel for the path of a handle identity.
func (b *Backend) openByHandle(key string) (string, error) {
	id := []byte(key)
	if !b.byHandle || binary.BigEndian.Uint32(id[4:8]) == inodeHandleType {
		return "", fsal.NewError(fsal.ErrStale, "", "object is no longer reachable")
	}

	n := int(id[8])
	if n > b.capacity {
		return "", fsal.NewError(fsal.ErrInvalid, "", "corrupt handle length %d", n)
	}
	h := unix.NewFileHandle(int32(binary.BigEndian.Uint32(id[4:8])), id[handleHeader:handleHeader+n])

	fd, err := unix.OpenByHandleAt(b.rootFD, h, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC)
	if err != nil {
		return "", fsal.NewError(fsal.ErrStale, "", "open_by_handle_at: %v", err)
	}
	defer unix.Close(fd)

	path, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
	if err != nil || strings.HasSuffix(path, " (deleted)") {
		return "", fsal.NewError(fsal.ErrStale, "", "object has been removed")
	}
	if path != b.root && !strings.HasPrefix(path, b.root+"/") {
		return "", fsal.NewError(fsal.ErrStale, "", "object is outside the export")
	}

	st, err := lstat(path)
	if err != nil {
		return "", fsal.NewError(fsal.ErrStale, "", "object has been removed")
	}
	b.paths.Set(key, pathEntry{abs: path, ino: st.Ino}, cache.DefaultExpiration)
	return path, nil
}

// object builds the Object for path, classifying junctions.
func (b *Backend) object(path string, st *unix.Statx_t) (fsal.Object, error) {
	id, err := b.identify(path, st)
	if err != nil {
		return fsal.Object{}, fsal.FromErrno(err, "name_to_handle_at", path)
	}
	ft := fsal.FileTypeFromMode(uint32(st.Mode))
	if ft == fsal.FileTypeDirectory && unix.Mkdev(st.Dev_major, st.Dev_minor) != b.rootDev {
		ft = fsal.FileTypeJunction
	}
	return fsal.Object{ID: id, Type: ft}, nil
}

func (b *Backend) rel(path string) string {
	if r, err := filepath.Rel(b.root, path); err == nil {
		return r
	}
	return path
}
