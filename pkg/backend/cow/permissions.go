package cow

import "github.com/marmos91/fsal/pkg/fsal"

const (
	permRead  = fsal.AccessRead
	permWrite = fsal.AccessWrite
	permExec  = fsal.AccessExecute
)

func (r *inodeRecord) ownership() fsal.Ownership {
	return fsal.Ownership{UID: r.UID, GID: r.GID, Mode: r.Mode}
}

func checkPermission(actx *fsal.AuthContext, rec *inodeRecord, want uint32, name string) error {
	return fsal.CheckAccess(actx, rec.ownership(), want, name)
}

func checkSetattr(actx *fsal.AuthContext, rec *inodeRecord, patch *fsal.NativePatch) error {
	return fsal.CheckSetattr(actx, rec.ownership(), patch)
}
