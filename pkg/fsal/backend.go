package fsal

import (
	"bytes"
	"encoding/hex"
)

// Object identifies one object inside a single backend instance.
//
// ID is the backend-native identity and always has the backend's
// ObjectSize() length. Generation detects reuse of an ID after the
// original object was removed.
type Object struct {
	ID         []byte
	Generation uint32
	Type       FileType
}

// Same reports whether o and other denote the same object (type ignored).
func (o Object) Same(other Object) bool {
	return o.Generation == other.Generation && bytes.Equal(o.ID, other.ID)
}

func (o Object) String() string {
	return hex.EncodeToString(o.ID) + "/" + o.Type.String()
}

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name   string
	Cookie uint64
	Object Object
	Stat   NativeStat
}

// Open flags understood by Backend.Open.
const (
	OpenRead     = 0x1
	OpenWrite    = 0x2
	OpenTruncate = 0x4
	OpenAppend   = 0x8
)

// Xattr set flags.
const (
	XattrCreate  = 0x1
	XattrReplace = 0x2
)

// Backend is one mounted backend instance: the live writable instance or
// a read-only snapshot.
//
// Every method translates native failures into *Error exactly once.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {
	// Name returns the human-readable label of this instance
	Name() string

	// FSID returns the filesystem id embedded in handles of this instance
	FSID() FSID

	// ObjectSize returns the fixed length of Object.ID for this backend
	ObjectSize() int

	// BlockSize returns the backend block size used for reporting
	BlockSize() uint32

	// ReadOnly reports whether the instance rejects every mutation
	ReadOnly() bool

	// Root returns the instance's root directory
	Root(actx *AuthContext) (Object, NativeStat, error)

	// Lookup resolves name inside directory dir. "." and ".." are supported.
	Lookup(actx *AuthContext, dir Object, name string) (Object, NativeStat, error)

	// Getattr returns the current native stat of obj
	Getattr(actx *AuthContext, obj Object) (NativeStat, error)

	// Setattr applies patch to obj and returns the updated stat
	Setattr(actx *AuthContext, obj Object, patch NativePatch) (NativeStat, error)

	// Create creates a regular file
	Create(actx *AuthContext, dir Object, name string, mode uint32) (Object, NativeStat, error)

	// Mkdir creates a directory
	Mkdir(actx *AuthContext, dir Object, name string, mode uint32) (Object, NativeStat, error)

	// Symlink creates a symbolic link pointing to target
	Symlink(actx *AuthContext, dir Object, name, target string) (Object, NativeStat, error)

	// Link adds a new name for obj inside dir
	Link(actx *AuthContext, obj Object, dir Object, name string) error

	// Unlink removes name from dir (files, symlinks and empty directories)
	Unlink(actx *AuthContext, dir Object, name string) error

	// Rename moves srcName in srcDir to dstName in dstDir
	Rename(actx *AuthContext, srcDir Object, srcName string, dstDir Object, dstName string) error

	// Readlink returns the target of a symbolic link
	Readlink(actx *AuthContext, obj Object) (string, error)

	// Readdir calls fn for each entry of dir after cookie, in cookie order,
	// until fn returns false. "." and ".." are not reported.
	Readdir(actx *AuthContext, dir Object, cookie uint64, fn func(DirEntry) bool) error

	// Open opens a regular file for I/O
	Open(actx *AuthContext, obj Object, flags int) (File, error)

	// ListXattrs returns the names of obj's real extended attributes in
	// the backend's listing order
	ListXattrs(actx *AuthContext, obj Object) ([]string, error)

	// GetXattr returns the raw value of the named extended attribute
	GetXattr(actx *AuthContext, obj Object, name string) ([]byte, error)

	// SetXattr stores an extended attribute (XattrCreate / XattrReplace flags)
	SetXattr(actx *AuthContext, obj Object, name string, value []byte, flags int) error

	// RemoveXattr deletes an extended attribute
	RemoveXattr(actx *AuthContext, obj Object, name string) error

	// Unmount releases the instance. No other method may be called afterwards.
	Unmount() error
}

// File is an open regular file of a backend.
type File interface {
	// ReadAt reads into p at off. It returns the bytes read and whether the
	// end of file was reached.
	ReadAt(actx *AuthContext, p []byte, off int64) (int, bool, error)

	// WriteAt writes p at off
	WriteAt(actx *AuthContext, p []byte, off int64) (int, error)

	// Sync makes written data stable
	Sync(actx *AuthContext) error

	// Close releases the file
	Close() error
}
