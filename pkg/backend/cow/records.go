package cow

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fsal/pkg/fsal"
)

// Reserved inode numbers.
const (
	// PseudoInode is reserved for the snapshot pseudo directory, which is
	// synthesized above the backend and never stored.
	PseudoInode uint64 = 2

	// RootInode is the root directory of every dataset
	RootInode uint64 = 3

	firstFreeInode uint64 = 4

	// liveDataset is the dataset id of the writable dataset
	liveDataset uint32 = 0

	// first cookie handed to a directory entry; 1 and 2 stand for "." and ".."
	firstCookie uint64 = 3
)

const (
	superblockVersion = 1

	// DefaultRecordSize is the file record size of new volumes
	DefaultRecordSize = 128 * 1024

	maxNameLen      = 255
	maxXattrValue   = 64 * 1024
	objectIDSize    = 8
	defaultDirMode  = 0o755
	defaultLinkMode = 0o777
)

// superblock is the volume header stored under keySuperblock.
type superblock struct {
	Version    uint32    `cbor:"version"`
	GUID       uuid.UUID `cbor:"guid"`
	Name       string    `cbor:"name"`
	TXG        uint64    `cbor:"txg"`
	NextInode  uint64    `cbor:"next_inode"`
	NextSnapID uint32    `cbor:"next_snap_id"`
	RecordSize uint32    `cbor:"record_size"`
	Created    int64     `cbor:"created"`
}

// SnapshotInfo describes one snapshot in the volume catalog.
type SnapshotInfo struct {
	// ID is the dataset id holding the snapshot's key space
	ID uint32 `cbor:"id"`

	// Name is the snapshot label shown in the pseudo directory
	Name string `cbor:"name"`

	// TXG is the transaction group the snapshot was taken at
	TXG uint64 `cbor:"txg"`

	// Created is the unix time (nanoseconds) of creation
	Created int64 `cbor:"created"`
}

// CreatedAt returns the creation time.
func (s SnapshotInfo) CreatedAt() time.Time {
	return time.Unix(0, s.Created)
}

// inodeRecord is the persisted form of one object.
type inodeRecord struct {
	Mode       uint32
	Nlink      uint32
	UID        uint32
	GID        uint32
	Size       uint64
	RdevMajor  uint32
	RdevMinor  uint32
	Atime      int64
	Mtime      int64
	Ctime      int64
	Btime      int64
	Generation uint32
	Parent     uint64
	NextCookie uint64
	Target     string
}

// direntRecord is the persisted form of one directory entry.
type direntRecord struct {
	Ino    uint64
	Cookie uint64
}

func (r *inodeRecord) fileType() fsal.FileType {
	return fsal.FileTypeFromMode(r.Mode)
}

func (r *inodeRecord) isDir() bool {
	return r.Mode&fsal.ModeTypeMask == fsal.ModeDirectory
}

func (r *inodeRecord) touch(now time.Time, mtime bool) {
	ns := now.UnixNano()
	r.Ctime = ns
	if mtime {
		r.Mtime = ns
	}
}

// stat converts the record into the native stat handed to the adapter.
func (r *inodeRecord) stat(ino uint64, blksize uint32, dev uint64) fsal.NativeStat {
	return fsal.NativeStat{
		Mode:    r.Mode,
		Ino:     ino,
		Nlink:   r.Nlink,
		UID:     r.UID,
		GID:     r.GID,
		Size:    r.Size,
		Blocks:  (r.Size + 511) / 512,
		Blksize: blksize,
		Rdev:    fsal.Device{Major: r.RdevMajor, Minor: r.RdevMinor},
		Dev:     dev,
		Atime:   time.Unix(0, r.Atime),
		Mtime:   time.Unix(0, r.Mtime),
		Ctime:   time.Unix(0, r.Ctime),
		Btime:   time.Unix(0, r.Btime),
	}
}

// applyStat copies the settable fields of st back into the record.
func (r *inodeRecord) applyStat(st *fsal.NativeStat) {
	r.Mode = st.Mode
	r.UID = st.UID
	r.GID = st.GID
	r.Size = st.Size
	r.Atime = st.Atime.UnixNano()
	r.Mtime = st.Mtime.UnixNano()
	r.Ctime = st.Ctime.UnixNano()
	r.Btime = st.Btime.UnixNano()
}

func newInode(mode uint32, actx *fsal.AuthContext, gen uint32, parent uint64, now time.Time) *inodeRecord {
	ns := now.UnixNano()
	rec := &inodeRecord{
		Mode:       mode,
		Nlink:      1,
		Atime:      ns,
		Mtime:      ns,
		Ctime:      ns,
		Btime:      ns,
		Generation: gen,
		Parent:     parent,
	}
	if actx != nil {
		rec.UID = actx.UID
		rec.GID = actx.GID
	}
	if rec.isDir() {
		rec.Nlink = 2
		rec.NextCookie = firstCookie
	}
	return rec
}

func objectID(ino uint64) []byte {
	id := make([]byte, objectIDSize)
	binary.BigEndian.PutUint64(id, ino)
	return id
}

func inodeOf(obj fsal.Object) (uint64, error) {
	if len(obj.ID) != objectIDSize {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "object id has %d bytes, expected %d", len(obj.ID), objectIDSize)
	}
	return binary.BigEndian.Uint64(obj.ID), nil
}
