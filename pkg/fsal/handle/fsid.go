package handle

import (
	"encoding/binary"

	"github.com/marmos91/fsal/pkg/fsal"
)

// EncodeFSID packs fsid into buf according to its type and returns the
// number of bytes written.
//
// buf must hold at least fsid.Type.Size() bytes. An fsid whose values do
// not fit its type is Invalid.
func EncodeFSID(buf []byte, fsid fsal.FSID) (int, error) {
	size := fsid.Type.Size()
	if size < 0 {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "unknown fsid type %d", fsid.Type)
	}
	if !fsid.Fits() {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "fsid %s does not fit its type", fsid)
	}
	if len(buf) < size {
		return 0, fsal.NewError(fsal.ErrTooSmall, "", "fsid needs %d bytes, have %d", size, len(buf))
	}

	switch fsid.Type {
	case fsal.FSIDNone:
	case fsal.FSIDOneUint64, fsal.FSIDMajor64:
		binary.BigEndian.PutUint64(buf, fsid.Major)
	case fsal.FSIDTwoUint64:
		binary.BigEndian.PutUint64(buf, fsid.Major)
		binary.BigEndian.PutUint64(buf[8:], fsid.Minor)
	case fsal.FSIDTwoUint32, fsal.FSIDDevice:
		binary.BigEndian.PutUint32(buf, uint32(fsid.Major))
		binary.BigEndian.PutUint32(buf[4:], uint32(fsid.Minor))
	}

	return size, nil
}

// DecodeFSID unpacks a filesystem id of the given type from buf.
//
// Types that only carry a major number decode with Minor = 0.
func DecodeFSID(buf []byte, t fsal.FSIDType) (fsal.FSID, int, error) {
	size := t.Size()
	if size < 0 {
		return fsal.FSID{}, 0, fsal.NewError(fsal.ErrInvalid, "", "unknown fsid type %d", t)
	}
	if len(buf) < size {
		return fsal.FSID{}, 0, fsal.NewError(fsal.ErrInvalid, "", "fsid needs %d bytes, have %d", size, len(buf))
	}

	fsid := fsal.FSID{Type: t}
	switch t {
	case fsal.FSIDNone:
	case fsal.FSIDOneUint64, fsal.FSIDMajor64:
		fsid.Major = binary.BigEndian.Uint64(buf)
	case fsal.FSIDTwoUint64:
		fsid.Major = binary.BigEndian.Uint64(buf)
		fsid.Minor = binary.BigEndian.Uint64(buf[8:])
	case fsal.FSIDTwoUint32, fsal.FSIDDevice:
		fsid.Major = uint64(binary.BigEndian.Uint32(buf))
		fsid.Minor = uint64(binary.BigEndian.Uint32(buf[4:]))
	}

	return fsid, size, nil
}
