package extattr

import (
	"encoding/binary"

	"github.com/marmos91/fsal/pkg/fsal"
)

// project derives the attributes of extended attribute id from the
// attributes of the object that owns it.
//
// Only the attributes present in obj.Mask are produced. Size and space
// used are one block, the link count is 1 and the type is ExtendedAttr.
// The file id mixes the id into the object's file id so every attribute
// of one object gets its own stable value.
func project(obj *fsal.Attributes, id uint32, blockSize uint64) fsal.Attributes {
	mask := obj.Mask & fsal.AttrAll
	out := fsal.Attributes{Mask: mask}

	if mask.Has(fsal.AttrType) {
		out.Type = fsal.FileTypeExtendedAttr
	}
	if mask.Has(fsal.AttrMode) {
		out.Mode = obj.Mode
		if IsReadOnly(id) {
			out.Mode &^= 0o222
		}
	}
	if mask.Has(fsal.AttrFileID) {
		out.FileID = FileID(obj.FileID, id)
	}
	if mask.Has(fsal.AttrOwner) {
		out.Owner = obj.Owner
	}
	if mask.Has(fsal.AttrGroup) {
		out.Group = obj.Group
	}
	if mask.Has(fsal.AttrAtime) {
		out.Atime = obj.Atime
	}
	if mask.Has(fsal.AttrMtime) {
		out.Mtime = obj.Mtime
	}
	if mask.Has(fsal.AttrCtime) {
		out.Ctime = obj.Ctime
	}
	if mask.Has(fsal.AttrCreation) {
		out.Creation = obj.Creation
	}
	if mask.Has(fsal.AttrChangeTime) {
		out.ChangeTime = obj.ChangeTime
		out.Change = obj.Change
	}
	if mask.Has(fsal.AttrSize) {
		out.Size = blockSize
	}
	if mask.Has(fsal.AttrSpaceUsed) {
		out.SpaceUsed = blockSize
	}
	if mask.Has(fsal.AttrNumLinks) {
		out.NumLinks = 1
	}
	if mask.Has(fsal.AttrFSID) {
		out.FSID = obj.FSID
	}

	// A zero mode would lock everyone out, owner included.
	if mask.Has(fsal.AttrOwner|fsal.AttrMode) && out.Mode == 0 {
		out.Owner = 0
		out.Mode = 0o600
		if IsReadOnly(id) {
			out.Mode &^= 0o200
		}
	}

	return out
}

// FileID computes the file id reported for extended attribute id of an
// object whose own file id is fileid.
//
// The hash runs over the little-endian bytes of fileid, each byte
// sign-extended, seeded with id+1: hash = hash<<5 - hash + byte.
func FileID(fileid uint64, id uint32) uint64 {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], fileid)

	hash := uint64(id) + 1
	for _, b := range raw {
		hash = (hash << 5) - hash + uint64(int64(int8(b)))
	}
	return hash
}
