package handle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/fsal/pkg/fsal"
)

// Version selects a digest form.
type Version uint8

const (
	// DigestNFSv2 is the full handle for NFSv2 clients
	DigestNFSv2 Version = iota + 1
	// DigestNFSv3 is the full handle for NFSv3 clients
	DigestNFSv3
	// DigestNFSv4 is the full handle for NFSv4 clients
	DigestNFSv4
	// DigestFileID2 is a 32-bit file id
	DigestFileID2
	// DigestFileID3 is a 64-bit file id built from the low 32 bits
	DigestFileID3
	// DigestFileID4 is a 64-bit file id
	DigestFileID4
)

// Digest budgets of the full handle forms.
const (
	BudgetNFSv2 = 29
	BudgetNFSv3 = 61
	BudgetNFSv4 = 108
)

// headerSize is kind(1) + fsid type(1) + snapshot(4) + generation(4).
const headerSize = 10

func (v Version) String() string {
	switch v {
	case DigestNFSv2:
		return "nfsv2"
	case DigestNFSv3:
		return "nfsv3"
	case DigestNFSv4:
		return "nfsv4"
	case DigestFileID2:
		return "fileid2"
	case DigestFileID3:
		return "fileid3"
	case DigestFileID4:
		return "fileid4"
	default:
		return fmt.Sprintf("digest(%d)", uint8(v))
	}
}

// Budget returns the maximum digest size for v, or -1 if unknown.
func (v Version) Budget() int {
	switch v {
	case DigestNFSv2:
		return BudgetNFSv2
	case DigestNFSv3:
		return BudgetNFSv3
	case DigestNFSv4:
		return BudgetNFSv4
	case DigestFileID2:
		return 4
	case DigestFileID3, DigestFileID4:
		return 8
	default:
		return -1
	}
}

// IsFileID reports whether v is one of the file id forms.
func (v Version) IsFileID() bool {
	return v == DigestFileID2 || v == DigestFileID3 || v == DigestFileID4
}

// Codec encodes and decodes handles of one backend.
//
// The layout is fixed per codec:
//
//	[kind:1][fsid type:1][snapshot:4][generation:4][fsid:N][object:M]
//
// N is the packed size of the codec's fsid type and M the backend's
// object size. All integers are big-endian.
//
// Thread Safety:
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	fsidType   fsal.FSIDType
	objectSize int
}

// NewCodec creates a codec for a backend whose objects are objectSize
// bytes long and whose filesystem ids are packed as fsidType.
func NewCodec(fsidType fsal.FSIDType, objectSize int) (*Codec, error) {
	if !fsidType.Valid() {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "unknown fsid type %d", fsidType)
	}
	if objectSize <= 0 {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "object size must be positive, got %d", objectSize)
	}
	return &Codec{fsidType: fsidType, objectSize: objectSize}, nil
}

// Size returns the exact length of every full digest produced by c.
func (c *Codec) Size() int {
	return headerSize + c.fsidType.Size() + c.objectSize
}

// ObjectSize returns the backend object length.
func (c *Codec) ObjectSize() int {
	return c.objectSize
}

// FSIDType returns the fsid packing type.
func (c *Codec) FSIDType() fsal.FSIDType {
	return c.fsidType
}

// Encode serializes h for protocol version v.
//
// Returns ErrTooSmall when the codec's digest does not fit the version's
// budget; the digest is never truncated. File id versions are produced by
// EncodeFileID and rejected here.
func (c *Codec) Encode(h Handle, v Version) ([]byte, error) {
	if v.IsFileID() || v.Budget() < 0 {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "cannot encode full handle as %s", v)
	}
	if c.Size() > v.Budget() {
		return nil, fsal.NewError(fsal.ErrTooSmall, "", "handle needs %d bytes, %s allows %d", c.Size(), v, v.Budget())
	}
	if !h.Kind.Valid() {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "unknown handle kind %d", h.Kind)
	}
	if len(h.Object) != c.objectSize {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "object is %d bytes, codec expects %d", len(h.Object), c.objectSize)
	}
	if h.FSID.Type != c.fsidType {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "fsid type %s does not match codec type %s", h.FSID.Type, c.fsidType)
	}
	if h.Kind == KindDummy && (h.Generation != 0 || h.Snapshot != 0) {
		return nil, fsal.NewError(fsal.ErrInvalid, "", "dummy handle with generation %d snapshot %d", h.Generation, h.Snapshot)
	}

	buf := make([]byte, c.Size())
	buf[0] = byte(h.Kind)
	buf[1] = byte(c.fsidType)
	binary.BigEndian.PutUint32(buf[2:], h.Snapshot)
	binary.BigEndian.PutUint32(buf[6:], h.Generation)
	n, err := EncodeFSID(buf[headerSize:], h.FSID)
	if err != nil {
		return nil, err
	}
	copy(buf[headerSize+n:], h.Object)

	return buf, nil
}

// Decode parses a digest produced by Encode.
//
// The length is checked against Size() before any field is read, and the
// decoded fields must pass the same checks as IsValid.
func (c *Codec) Decode(d []byte, v Version) (Handle, error) {
	if v.IsFileID() || v.Budget() < 0 {
		return Handle{}, fsal.NewError(fsal.ErrInvalid, "", "cannot decode %s digest into a handle", v)
	}
	if len(d) != c.Size() {
		return Handle{}, fsal.NewError(fsal.ErrInvalid, "", "digest is %d bytes, expected %d", len(d), c.Size())
	}
	if !c.IsValid(d) {
		return Handle{}, fsal.NewError(fsal.ErrInvalid, "", "malformed digest")
	}

	fsid, n, err := DecodeFSID(d[headerSize:], fsal.FSIDType(d[1]))
	if err != nil {
		return Handle{}, err
	}

	object := make([]byte, c.objectSize)
	copy(object, d[headerSize+n:])

	return Handle{
		Kind:       Kind(d[0]),
		FSID:       fsid,
		Snapshot:   binary.BigEndian.Uint32(d[2:]),
		Generation: binary.BigEndian.Uint32(d[6:]),
		Object:     object,
	}, nil
}

// EncodeDummy builds a handle that only addresses the filesystem fsid.
//
// The fsid is packed into the object bytes using the same layout as the
// header, so a dummy handle can be matched back to its filesystem after a
// restart. Generation and snapshot are always zero.
func (c *Codec) EncodeDummy(fsid fsal.FSID) (Handle, error) {
	if fsid.Type != c.fsidType {
		return Handle{}, fsal.NewError(fsal.ErrInvalid, "", "fsid type %s does not match codec type %s", fsid.Type, c.fsidType)
	}

	object := make([]byte, c.objectSize)
	if _, err := EncodeFSID(object, fsid); err != nil {
		return Handle{}, err
	}

	return Handle{Kind: KindDummy, FSID: fsid, Object: object}, nil
}

// IsValid checks a digest received from the wire.
//
// A digest is valid when its length is exactly Size(), its kind and fsid
// type are known, the fsid type matches the codec, and a dummy digest has
// zero generation and snapshot and carries its own fsid in the object
// bytes followed by zero padding.
func (c *Codec) IsValid(d []byte) bool {
	if len(d) != c.Size() {
		return false
	}

	kind := Kind(d[0])
	if !kind.Valid() {
		return false
	}

	ft := fsal.FSIDType(d[1])
	if !ft.Valid() || ft != c.fsidType {
		return false
	}

	if kind != KindDummy {
		return true
	}

	snapshot := binary.BigEndian.Uint32(d[2:])
	generation := binary.BigEndian.Uint32(d[6:])
	if snapshot != 0 || generation != 0 {
		return false
	}

	fsidLen := ft.Size()
	header := d[headerSize : headerSize+fsidLen]
	object := d[headerSize+fsidLen:]
	if len(object) < fsidLen || !bytes.Equal(object[:fsidLen], header) {
		return false
	}
	for _, b := range object[fsidLen:] {
		if b != 0 {
			return false
		}
	}

	return true
}

// ExtractFSID returns the filesystem id embedded in a digest.
func (c *Codec) ExtractFSID(d []byte) (fsal.FSIDType, fsal.FSID, error) {
	if len(d) != c.Size() {
		return 0, fsal.FSID{}, fsal.NewError(fsal.ErrInvalid, "", "digest is %d bytes, expected %d", len(d), c.Size())
	}

	ft := fsal.FSIDType(d[1])
	if !ft.Valid() || ft != c.fsidType {
		return 0, fsal.FSID{}, fsal.NewError(fsal.ErrInvalid, "", "unknown fsid type %d", d[1])
	}

	fsid, _, err := DecodeFSID(d[headerSize:], ft)
	if err != nil {
		return 0, fsal.FSID{}, err
	}
	return ft, fsid, nil
}

// EncodeFileID produces a file id digest.
//
// DigestFileID3 keeps only the low 32 bits of fileid, widened to 64 bits,
// for compatibility with clients that were handed such ids before.
func EncodeFileID(fileid uint64, v Version) ([]byte, error) {
	switch v {
	case DigestFileID2:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(fileid))
		return buf, nil
	case DigestFileID3:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(uint32(fileid)))
		return buf, nil
	case DigestFileID4:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, fileid)
		return buf, nil
	default:
		return nil, fsal.NewError(fsal.ErrInvalid, "", "%s is not a file id digest", v)
	}
}
