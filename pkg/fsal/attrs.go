package fsal

import (
	"fmt"
	"time"
)

// FileType is the generic object type.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
	FileTypeCharDevice
	FileTypeBlockDevice
	FileTypeFIFO
	FileTypeSocket
	// FileTypeExtendedAttr is the type reported for extended attribute entries
	FileTypeExtendedAttr
	// FileTypeJunction marks a directory that belongs to another filesystem
	FileTypeJunction
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeCharDevice:
		return "char"
	case FileTypeBlockDevice:
		return "block"
	case FileTypeFIFO:
		return "fifo"
	case FileTypeSocket:
		return "socket"
	case FileTypeExtendedAttr:
		return "xattr"
	case FileTypeJunction:
		return "junction"
	default:
		return "unknown"
	}
}

// AttrMask selects attributes in an Attributes value.
type AttrMask uint32

const (
	AttrType AttrMask = 1 << iota
	AttrMode
	AttrNumLinks
	AttrOwner
	AttrGroup
	AttrSize
	AttrSpaceUsed
	AttrFileID
	AttrFSID
	AttrRawDev
	AttrAtime
	AttrMtime
	AttrCtime
	AttrCreation
	AttrChangeTime
	// AttrAtimeServer asks SetAttributes to set atime to the server clock
	AttrAtimeServer
	// AttrMtimeServer asks SetAttributes to set mtime to the server clock
	AttrMtimeServer
)

// AttrAll is every attribute a backend reports.
const AttrAll = AttrType | AttrMode | AttrNumLinks | AttrOwner | AttrGroup |
	AttrSize | AttrSpaceUsed | AttrFileID | AttrFSID | AttrRawDev |
	AttrAtime | AttrMtime | AttrCtime | AttrCreation | AttrChangeTime

// attrSettable lists the bits FromGeneric accepts.
const attrSettable = AttrMode | AttrOwner | AttrGroup | AttrSize |
	AttrAtime | AttrMtime | AttrAtimeServer | AttrMtimeServer | AttrCreation

// Has reports whether every bit in m2 is set in m.
func (m AttrMask) Has(m2 AttrMask) bool {
	return m&m2 == m2
}

// Device is a raw device number.
type Device struct {
	Major uint32
	Minor uint32
}

// Attributes is the generic attribute set handed to the protocol core.
//
// Only the fields selected by Mask are meaningful.
type Attributes struct {
	Mask       AttrMask
	Type       FileType
	Mode       uint32 // permission bits only (07777)
	NumLinks   uint32
	Owner      uint32
	Group      uint32
	Size       uint64
	SpaceUsed  uint64
	FileID     uint64
	FSID       FSID
	RawDev     Device
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	Creation   time.Time
	ChangeTime time.Time
	// Change is the change counter derived from ChangeTime
	Change uint64
}

// Native file type bits (S_IFMT) as used in NativeStat.Mode.
const (
	ModeTypeMask   = 0o170000
	ModeSocket     = 0o140000
	ModeSymlink    = 0o120000
	ModeRegular    = 0o100000
	ModeBlock      = 0o060000
	ModeDirectory  = 0o040000
	ModeChar       = 0o020000
	ModeFIFO       = 0o010000
	ModePermission = 0o7777
)

// NativeStat is the stat-like structure backends produce.
//
// It mirrors struct stat so POSIX backends can fill it directly; other
// backends map their own records onto it.
type NativeStat struct {
	Mode    uint32 // type and permission bits
	Ino     uint64
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	Blocks  uint64 // 512-byte blocks allocated
	Blksize uint32
	Rdev    Device
	Dev     uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Btime   time.Time
}

// FileType returns the generic type encoded in the mode bits.
func (st *NativeStat) FileType() FileType {
	return FileTypeFromMode(st.Mode)
}

// FileTypeFromMode decodes the S_IFMT bits of mode.
func FileTypeFromMode(mode uint32) FileType {
	switch mode & ModeTypeMask {
	case ModeRegular:
		return FileTypeRegular
	case ModeDirectory:
		return FileTypeDirectory
	case ModeSymlink:
		return FileTypeSymlink
	case ModeChar:
		return FileTypeCharDevice
	case ModeBlock:
		return FileTypeBlockDevice
	case ModeFIFO:
		return FileTypeFIFO
	case ModeSocket:
		return FileTypeSocket
	default:
		return FileTypeUnknown
	}
}

// ModeFromFileType returns the S_IFMT bits for t.
func ModeFromFileType(t FileType) uint32 {
	switch t {
	case FileTypeRegular:
		return ModeRegular
	case FileTypeDirectory, FileTypeJunction:
		return ModeDirectory
	case FileTypeSymlink:
		return ModeSymlink
	case FileTypeCharDevice:
		return ModeChar
	case FileTypeBlockDevice:
		return ModeBlock
	case FileTypeFIFO:
		return ModeFIFO
	case FileTypeSocket:
		return ModeSocket
	default:
		return 0
	}
}

// ToGeneric maps a native stat into the generic attribute set.
//
// Every attribute in AttrAll is filled and reported in the mask. Dev is
// not carried: the export presents fsid instead of the device the backend
// lives on. Blksize has no generic counterpart and is dropped.
func ToGeneric(st *NativeStat, fsid FSID) Attributes {
	change := st.Ctime
	if change.IsZero() {
		change = st.Mtime
	}

	return Attributes{
		Mask:       AttrAll,
		Type:       st.FileType(),
		Mode:       st.Mode & ModePermission,
		NumLinks:   st.Nlink,
		Owner:      st.UID,
		Group:      st.GID,
		Size:       st.Size,
		SpaceUsed:  st.Blocks * 512,
		FileID:     st.Ino,
		FSID:       fsid,
		RawDev:     st.Rdev,
		Atime:      st.Atime,
		Mtime:      st.Mtime,
		Ctime:      st.Ctime,
		Creation:   st.Btime,
		ChangeTime: change,
		Change:     uint64(change.UnixNano()),
	}
}

// PatchMask selects fields in a NativePatch.
type PatchMask uint16

const (
	PatchMode PatchMask = 1 << iota
	PatchUID
	PatchGID
	PatchSize
	PatchAtime
	PatchMtime
	PatchAtimeNow
	PatchMtimeNow
	PatchBtime
)

// NativePatch is the backend-side form of a SetAttributes request.
type NativePatch struct {
	Mask  PatchMask
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Btime time.Time
}

// Has reports whether the patch carries field f.
func (p *NativePatch) Has(f PatchMask) bool {
	return p.Mask&f != 0
}

// FromGeneric builds the native patch for the attributes selected by mask.
//
// Only fields whose bit is set in mask are produced. Requesting a bit that
// cannot be set (type, fileid, link count, ...) fails with ErrInvalid.
func FromGeneric(attrs *Attributes, mask AttrMask) (NativePatch, error) {
	if extra := mask &^ attrSettable; extra != 0 {
		return NativePatch{}, NewError(ErrInvalid, "", "attributes %#x cannot be set", uint32(extra))
	}

	var p NativePatch

	if mask&AttrMode != 0 {
		if attrs.Mode&^ModePermission != 0 {
			return NativePatch{}, NewError(ErrInvalid, "", "mode %o has non-permission bits", attrs.Mode)
		}
		p.Mask |= PatchMode
		p.Mode = attrs.Mode
	}
	if mask&AttrOwner != 0 {
		p.Mask |= PatchUID
		p.UID = attrs.Owner
	}
	if mask&AttrGroup != 0 {
		p.Mask |= PatchGID
		p.GID = attrs.Group
	}
	if mask&AttrSize != 0 {
		p.Mask |= PatchSize
		p.Size = attrs.Size
	}

	switch {
	case mask&AttrAtimeServer != 0:
		p.Mask |= PatchAtimeNow
	case mask&AttrAtime != 0:
		p.Mask |= PatchAtime
		p.Atime = attrs.Atime
	}

	switch {
	case mask&AttrMtimeServer != 0:
		p.Mask |= PatchMtimeNow
	case mask&AttrMtime != 0:
		p.Mask |= PatchMtime
		p.Mtime = attrs.Mtime
	}

	if mask&AttrCreation != 0 {
		p.Mask |= PatchBtime
		p.Btime = attrs.Creation
	}

	return p, nil
}

// Apply writes the patch onto st, resolving server-time requests with now.
// Backends that keep their own records use it to implement Setattr.
func (p *NativePatch) Apply(st *NativeStat, now time.Time) {
	if p.Has(PatchMode) {
		st.Mode = st.Mode&ModeTypeMask | p.Mode&ModePermission
	}
	if p.Has(PatchUID) {
		st.UID = p.UID
	}
	if p.Has(PatchGID) {
		st.GID = p.GID
	}
	if p.Has(PatchSize) {
		st.Size = p.Size
	}
	if p.Has(PatchAtimeNow) {
		st.Atime = now
	} else if p.Has(PatchAtime) {
		st.Atime = p.Atime
	}
	if p.Has(PatchMtimeNow) {
		st.Mtime = now
	} else if p.Has(PatchMtime) {
		st.Mtime = p.Mtime
	}
	if p.Has(PatchBtime) {
		st.Btime = p.Btime
	}
	st.Ctime = now
}

func (p NativePatch) String() string {
	return fmt.Sprintf("patch{mask=%#x mode=%o uid=%d gid=%d size=%d}", uint16(p.Mask), p.Mode, p.UID, p.GID, p.Size)
}
