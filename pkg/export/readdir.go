package export

import (
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
)

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string

	// Cookie resumes the listing after this entry
	Cookie uint64

	Handle handle.Handle
	Attrs  fsal.Attributes
}

// Readdir lists dir starting after cookie (0 = from the beginning).
//
// At most limit entries are returned; limit <= 0 returns all of them.
// "." and ".." are never reported. Entries inherit dir's snapshot tag.
//
// The pseudo directory lists the mounted snapshots by label, each
// yielding the root of its instance. Its cookies are the registry
// indices, so a listing resumes correctly while snapshots are added.
//
// Returns:
//   - entries: the entries in cookie order
//   - eol: true when the listing is complete
func (e *Export) Readdir(actx *fsal.AuthContext, dir handle.Handle, cookie uint64, limit int) (entries []DirEntry, eol bool, err error) {
	defer e.observe("readdir", time.Now(), &err)

	actx = e.caller(actx)
	dir, err = e.canonical(actx, dir)
	if err != nil {
		return nil, false, err
	}

	switch {
	case dir.Kind == handle.KindPseudoDir:
		return e.readdirSnapshots(actx, cookie, limit)
	case dir.Kind == handle.KindJunction && !e.opts.FollowJunctions:
		return nil, false, fsal.NewError(fsal.ErrCrossDevice, "", "%s is a junction", dir)
	case dir.Kind != handle.KindDirectory && dir.Kind != handle.KindJunction:
		return nil, false, fsal.NewError(fsal.ErrNotADirectory, "", "%s is not a directory", dir)
	}

	m, err := e.mountOf(dir)
	if err != nil {
		return nil, false, err
	}

	// The snapshot directory shadows a real entry of the same name in the
	// live root.
	hidePseudo := false
	if !m.IsSnapshot() {
		if hidePseudo, err = e.isRoot(actx, m, dir.BackendObject()); err != nil {
			return nil, false, err
		}
	}

	more := false
	err = m.Backend.Readdir(actx, dir.BackendObject(), cookie, func(de fsal.DirEntry) bool {
		if hidePseudo && de.Name == e.opts.PseudoDirName {
			return true
		}
		if limit > 0 && len(entries) >= limit {
			more = true
			return false
		}
		entries = append(entries, DirEntry{
			Name:   de.Name,
			Cookie: de.Cookie,
			Handle: e.handleOf(m, de.Object),
			Attrs:  e.attrsOf(m, &de.Stat),
		})
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return entries, !more, nil
}

func (e *Export) readdirSnapshots(actx *fsal.AuthContext, cookie uint64, limit int) ([]DirEntry, bool, error) {
	var entries []DirEntry
	for _, m := range e.reg.Snapshots() {
		if uint64(m.Index) <= cookie {
			continue
		}
		if limit > 0 && len(entries) >= limit {
			return entries, false, nil
		}
		obj, st, err := m.Backend.Root(actx)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, DirEntry{
			Name:   m.Label,
			Cookie: uint64(m.Index),
			Handle: e.handleOf(m, obj),
			Attrs:  e.attrsOf(m, &st),
		})
	}
	return entries, true, nil
}
