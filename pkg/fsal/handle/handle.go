// Package handle implements the wire codec for object handles.
//
// A Handle names one object in one mounted backend instance. The codec
// turns it into a fixed-size digest a remote client can hold on to and
// present again later, and validates every digest received from the wire
// before interpreting any of its fields.
package handle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/marmos91/fsal/pkg/fsal"
)

// Kind is the type tag stored in a handle.
//
// The values are part of the wire format.
type Kind uint8

const (
	KindRegular   Kind = 1
	KindDirectory Kind = 2
	KindSymlink   Kind = 3
	KindExtAttr   Kind = 4
	KindJunction  Kind = 5
	KindOther     Kind = 6
	// KindPseudoDir marks the synthetic snapshot directory
	KindPseudoDir Kind = 7
	// KindDummy marks a handle that only addresses a filesystem instance
	KindDummy Kind = 0xff
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return (k >= KindRegular && k <= KindPseudoDir) || k == KindDummy
}

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindExtAttr:
		return "xattr"
	case KindJunction:
		return "junction"
	case KindOther:
		return "other"
	case KindPseudoDir:
		return "pseudo-dir"
	case KindDummy:
		return "dummy"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsDirectory reports whether lookups may be performed below k.
func (k Kind) IsDirectory() bool {
	return k == KindDirectory || k == KindPseudoDir
}

// KindOf maps a generic file type onto a handle kind.
func KindOf(t fsal.FileType) Kind {
	switch t {
	case fsal.FileTypeRegular:
		return KindRegular
	case fsal.FileTypeDirectory:
		return KindDirectory
	case fsal.FileTypeSymlink:
		return KindSymlink
	case fsal.FileTypeExtendedAttr:
		return KindExtAttr
	case fsal.FileTypeJunction:
		return KindJunction
	default:
		return KindOther
	}
}

// FileType maps a handle kind back onto the generic file type.
func (k Kind) FileType() fsal.FileType {
	switch k {
	case KindRegular:
		return fsal.FileTypeRegular
	case KindDirectory, KindPseudoDir:
		return fsal.FileTypeDirectory
	case KindSymlink:
		return fsal.FileTypeSymlink
	case KindExtAttr:
		return fsal.FileTypeExtendedAttr
	case KindJunction:
		return fsal.FileTypeJunction
	default:
		return fsal.FileTypeUnknown
	}
}

// Handle is the identity of one object as known to the adapter layer.
//
// Handles are values: they are built by lookups and never modified in
// place. Snapshot is 0 for the live instance and otherwise the registry
// index of the snapshot instance that owns the object.
type Handle struct {
	Kind       Kind
	FSID       fsal.FSID
	Snapshot   uint32
	Generation uint32
	Object     []byte
}

// FromObject builds the handle of a backend object.
func FromObject(obj fsal.Object, fsid fsal.FSID, snapshot uint32) Handle {
	return Handle{
		Kind:       KindOf(obj.Type),
		FSID:       fsid,
		Snapshot:   snapshot,
		Generation: obj.Generation,
		Object:     obj.ID,
	}
}

// BackendObject returns the backend-side identity of h.
func (h Handle) BackendObject() fsal.Object {
	return fsal.Object{ID: h.Object, Generation: h.Generation, Type: h.Kind.FileType()}
}

// Key returns a comparable string identifying h, suitable as a map key.
func (h Handle) Key() string {
	var b bytes.Buffer
	b.Grow(10 + len(h.Object))
	b.WriteByte(byte(h.Kind))
	b.WriteByte(byte(h.Snapshot >> 24))
	b.WriteByte(byte(h.Snapshot >> 16))
	b.WriteByte(byte(h.Snapshot >> 8))
	b.WriteByte(byte(h.Snapshot))
	b.WriteByte(byte(h.Generation >> 24))
	b.WriteByte(byte(h.Generation >> 16))
	b.WriteByte(byte(h.Generation >> 8))
	b.WriteByte(byte(h.Generation))
	b.Write(h.Object)
	return b.String()
}

// Equal reports whether two handles denote the same object.
func (h Handle) Equal(o Handle) bool {
	return h.Kind == o.Kind && h.FSID == o.FSID && h.Snapshot == o.Snapshot &&
		h.Generation == o.Generation && bytes.Equal(h.Object, o.Object)
}

func (h Handle) String() string {
	return fmt.Sprintf("%s@%d:%s/%d", h.Kind, h.Snapshot, hex.EncodeToString(h.Object), h.Generation)
}
