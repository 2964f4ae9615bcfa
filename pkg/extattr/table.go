package extattr

import (
	"encoding/hex"
	"strconv"

	"github.com/marmos91/fsal/pkg/fsal"
)

// Flags describe which object types a static attribute applies to and
// whether it can be written.
type Flags uint8

const (
	ForFile Flags = 1 << iota
	ForDir
	ForSymlink
	ForOther
	// ReadOnly marks an attribute that rejects set and remove
	ReadOnly
)

// ForAll matches every object type.
const ForAll = ForFile | ForDir | ForSymlink | ForOther

// Matches reports whether an attribute with flags f applies to t.
//
// Regular files, directories and symlinks check their own bit. Every other
// type (devices, fifos, sockets, junctions) needs the full ForAll set.
func (f Flags) Matches(t fsal.FileType) bool {
	switch t {
	case fsal.FileTypeRegular:
		return f&ForFile == ForFile
	case fsal.FileTypeDirectory:
		return f&ForDir == ForDir
	case fsal.FileTypeSymlink:
		return f&ForSymlink == ForSymlink
	default:
		return f&ForAll == ForAll
	}
}

// Names of the built-in attributes.
const (
	NameHandle     = "fsal.handle"
	NameGeneration = "fsal.generation"
	NameSnapshot   = "fsal.snapshot"
)

type getterFunc func(t *Target) ([]byte, error)

type staticAttr struct {
	name  string
	flags Flags
	get   getterFunc
}

// statics is indexed by attribute id. Entries are never reordered: the ids
// of real attributes start right after the last one.
var statics = [...]staticAttr{
	{name: NameHandle, flags: ForAll | ReadOnly, get: getHandle},
	{name: NameGeneration, flags: ForFile | ForDir | ReadOnly, get: getGeneration},
	{name: NameSnapshot, flags: ForAll | ReadOnly, get: getSnapshot},
}

// StaticCount is the number of built-in attributes. Real attributes get
// ids StaticCount and above.
const StaticCount = uint32(len(statics))

func getHandle(t *Target) ([]byte, error) {
	if len(t.Digest) == 0 {
		return nil, fsal.NewError(fsal.ErrUnsupported, "", "no handle digest available")
	}
	return []byte(hex.EncodeToString(t.Digest)), nil
}

func getGeneration(t *Target) ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(t.Object.Generation), 10)), nil
}

func getSnapshot(t *Target) ([]byte, error) {
	return []byte(t.Label), nil
}

// staticByName returns the id of the built-in attribute called name that
// applies to objects of type ft.
func staticByName(name string, ft fsal.FileType) (uint32, bool) {
	for i := range statics {
		if statics[i].name == name && statics[i].flags.Matches(ft) {
			return uint32(i), true
		}
	}
	return 0, false
}

// IsReadOnly reports whether the attribute with the given id is read-only.
// Real attributes are always writable at this layer.
func IsReadOnly(id uint32) bool {
	return id < StaticCount && statics[id].flags&ReadOnly != 0
}
