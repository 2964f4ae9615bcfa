package fsal

// Access bits, in the rwx order used by each mode triplet.
const (
	AccessRead    uint32 = 4
	AccessWrite   uint32 = 2
	AccessExecute uint32 = 1
)

// Ownership is the part of an object's stat that access checks read.
type Ownership struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// Ownership returns the owner, group and mode of st.
func (st *NativeStat) Ownership() Ownership {
	return Ownership{UID: st.UID, GID: st.GID, Mode: st.Mode}
}

// HasAccess checks want against the owner, group or other triplet of o,
// whichever applies to the caller.
//
// Permission check logic:
//   - No auth context: denied
//   - Root (UID 0): always granted
//   - Owner: owner bits (mode >> 6)
//   - Primary or supplementary group member: group bits (mode >> 3)
//   - Everyone else: other bits
//
// Backends call it before touching the object, so the result is the same
// whatever privileges the server process runs with.
func HasAccess(actx *AuthContext, o Ownership, want uint32) bool {
	if actx == nil {
		return false
	}
	if actx.UID == 0 {
		return true
	}

	var bits uint32
	switch {
	case actx.UID == o.UID:
		bits = o.Mode >> 6
	case actx.InGroup(o.GID):
		bits = o.Mode >> 3
	default:
		bits = o.Mode
	}
	return bits&7&want == want
}

// CheckAccess returns PermissionDenied for name unless HasAccess grants want.
func CheckAccess(actx *AuthContext, o Ownership, want uint32, name string) error {
	if HasAccess(actx, o, want) {
		return nil
	}
	return NewError(ErrPermissionDenied, name, "access denied")
}

// CheckSetattr enforces the ownership rules of chmod, chown, truncate and
// utimes for a patch applied to an object with ownership o.
//
// Rules:
//   - Only root changes the owner
//   - The owner may change the group to one of its own groups
//   - Only the owner changes the mode or sets explicit times
//   - Truncation needs write access
//   - Setting times to now needs ownership or write access
func CheckSetattr(actx *AuthContext, o Ownership, patch *NativePatch) error {
	if actx == nil {
		return NewError(ErrPermissionDenied, "", "no credentials")
	}
	if actx.UID == 0 {
		return nil
	}

	owner := actx.UID == o.UID

	if patch.Has(PatchUID) && patch.UID != o.UID {
		return NewError(ErrPermissionDenied, "", "only root may change the owner")
	}
	if patch.Has(PatchGID) && patch.GID != o.GID {
		if !owner || !actx.InGroup(patch.GID) {
			return NewError(ErrPermissionDenied, "", "cannot change group to %d", patch.GID)
		}
	}
	if patch.Has(PatchMode) && !owner {
		return NewError(ErrPermissionDenied, "", "only the owner may change the mode")
	}
	if patch.Has(PatchSize) && !HasAccess(actx, o, AccessWrite) {
		return NewError(ErrPermissionDenied, "", "write access required to truncate")
	}

	explicitTimes := patch.Has(PatchAtime) || patch.Has(PatchMtime) || patch.Has(PatchBtime)
	if explicitTimes && !owner {
		return NewError(ErrPermissionDenied, "", "only the owner may set explicit times")
	}
	nowTimes := patch.Has(PatchAtimeNow) || patch.Has(PatchMtimeNow)
	if nowTimes && !owner && !HasAccess(actx, o, AccessWrite) {
		return NewError(ErrPermissionDenied, "", "write access required to touch")
	}
	return nil
}

// OpenAccess returns the access bits an open with flags needs.
func OpenAccess(flags int) uint32 {
	var want uint32
	if flags&OpenRead != 0 {
		want |= AccessRead
	}
	if flags&(OpenWrite|OpenTruncate|OpenAppend) != 0 {
		want |= AccessWrite
	}
	return want
}
