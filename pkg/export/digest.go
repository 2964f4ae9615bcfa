package export

import (
	"encoding/binary"
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
)

// DigestHandle serializes h for protocol version v.
//
// Full handle versions go through the codec and fail with TooSmall when
// the export's handles exceed the version's budget. File id versions are
// built from the leading eight object bytes.
func (e *Export) DigestHandle(h handle.Handle, v handle.Version) (d []byte, err error) {
	defer e.observe("digest", time.Now(), &err)

	if v.IsFileID() {
		return handle.EncodeFileID(fileIDOf(h.Object), v)
	}
	return e.codec.Encode(h, v)
}

// ExpandHandle parses a digest received from the wire.
//
// The digest is validated before any field is interpreted. A digest of
// another filesystem is reported as Stale.
func (e *Export) ExpandHandle(d []byte, v handle.Version) (h handle.Handle, err error) {
	defer e.observe("expand", time.Now(), &err)

	h, err = e.codec.Decode(d, v)
	if err != nil {
		return handle.Handle{}, err
	}
	m, err := e.mountOf(h)
	if err != nil {
		return handle.Handle{}, err
	}
	if h.FSID != m.Backend.FSID() {
		return handle.Handle{}, fsal.NewError(fsal.ErrStale, "", "handle of foreign filesystem %s", h.FSID)
	}
	return h, nil
}

// fileIDOf reads up to eight leading object bytes as a big-endian integer.
func fileIDOf(object []byte) uint64 {
	var buf [8]byte
	n := min(len(object), len(buf))
	copy(buf[len(buf)-n:], object[:n])
	return binary.BigEndian.Uint64(buf[:])
}
