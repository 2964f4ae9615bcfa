package export

import (
	"strings"
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
)

// Root returns the root of the live instance. Its snapshot tag is 0.
func (e *Export) Root(actx *fsal.AuthContext) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("root", time.Now(), &err)
	return e.root(e.caller(actx))
}

func (e *Export) root(actx *fsal.AuthContext) (handle.Handle, fsal.Attributes, error) {
	live := e.reg.Live()
	obj, st, err := live.Backend.Root(actx)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	return e.handleOf(live, obj), e.attrsOf(live, &st), nil
}

// Lookup resolves name inside the directory parent.
//
// Three cases are handled before the generic backend lookup, in order:
//  1. the pseudo directory name inside the live root yields the synthetic
//     snapshot directory
//  2. a name inside the pseudo directory yields the root of the snapshot
//     mounted under that label, tagged with the snapshot's index
//  3. otherwise the backend of parent's instance is asked and the child
//     inherits parent's tag, except that stepping up to the instance root
//     of a snapshot returns to the live root with tag 0
//
// Returns:
//   - NotADirectory if parent is not a directory
//   - CrossDevice if parent is a junction
func (e *Export) Lookup(actx *fsal.AuthContext, parent handle.Handle, name string) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("lookup", time.Now(), &err)
	return e.lookup(e.caller(actx), parent, name, false)
}

func (e *Export) lookup(actx *fsal.AuthContext, parent handle.Handle, name string, crossJunctions bool) (handle.Handle, fsal.Attributes, error) {
	parent, err := e.canonical(actx, parent)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}

	switch {
	case parent.Kind == handle.KindJunction && !crossJunctions:
		return handle.Handle{}, fsal.Attributes{}, fsal.NewError(fsal.ErrCrossDevice, name, "parent is a junction")
	case parent.Kind == handle.KindPseudoDir:
		return e.lookupSnapshot(actx, name)
	case parent.Kind != handle.KindDirectory && parent.Kind != handle.KindJunction:
		return handle.Handle{}, fsal.Attributes{}, fsal.NewError(fsal.ErrNotADirectory, name, "parent is a %s", parent.Kind)
	}

	m, err := e.mountOf(parent)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}

	if name == e.opts.PseudoDirName && parent.Snapshot == 0 {
		isRoot, err := e.isRoot(actx, m, parent.BackendObject())
		if err != nil {
			return handle.Handle{}, fsal.Attributes{}, err
		}
		if isRoot {
			attrs, err := e.pseudoAttrs(actx)
			if err != nil {
				return handle.Handle{}, fsal.Attributes{}, err
			}
			return e.pseudoHandle(), attrs, nil
		}
	}

	obj, st, err := m.Backend.Lookup(actx, parent.BackendObject(), name)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}

	if name == ".." && m.IsSnapshot() {
		isRoot, err := e.isRoot(actx, m, obj)
		if err != nil {
			return handle.Handle{}, fsal.Attributes{}, err
		}
		if isRoot {
			return e.root(actx)
		}
	}

	return e.handleOf(m, obj), e.attrsOf(m, &st), nil
}

// lookupSnapshot resolves name inside the pseudo directory.
func (e *Export) lookupSnapshot(actx *fsal.AuthContext, name string) (handle.Handle, fsal.Attributes, error) {
	switch name {
	case ".":
		attrs, err := e.pseudoAttrs(actx)
		return e.pseudoHandle(), attrs, err
	case "..":
		return e.root(actx)
	}

	tag, err := e.reg.LookupPseudoDirEntry(name)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	m, err := e.reg.Resolve(tag)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}

	obj, st, err := m.Backend.Root(actx)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	return e.handleOf(m, obj), e.attrsOf(m, &st), nil
}

// LookupPath resolves an absolute path from the export root.
//
// Empty components and "." are skipped. Junctions are crossed only when
// the export allows it; otherwise the walk stops with CrossDevice.
func (e *Export) LookupPath(actx *fsal.AuthContext, path string) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("lookup_path", time.Now(), &err)

	if !strings.HasPrefix(path, "/") {
		return handle.Handle{}, fsal.Attributes{}, fsal.NewError(fsal.ErrInvalid, path, "path must be absolute")
	}

	actx = e.caller(actx)
	h, attrs, err = e.root(actx)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		h, attrs, err = e.lookup(actx, h, comp, e.opts.FollowJunctions)
		if err != nil {
			return handle.Handle{}, fsal.Attributes{}, err
		}
	}
	return h, attrs, nil
}

// Readlink returns the target of a symbolic link.
func (e *Export) Readlink(actx *fsal.AuthContext, h handle.Handle) (target string, err error) {
	defer e.observe("readlink", time.Now(), &err)

	if h.Kind != handle.KindSymlink {
		return "", fsal.NewError(fsal.ErrInvalid, "", "%s is not a symbolic link", h)
	}
	m, err := e.mountOf(h)
	if err != nil {
		return "", err
	}
	return m.Backend.Readlink(e.caller(actx), h.BackendObject())
}

// GetAttributes returns the attributes of h restricted to mask (0 = all).
//
// When the backend no longer finds the object but an open session on it
// captured the attributes of a regular file, those are returned instead.
// This covers a file unlinked by another request while open.
func (e *Export) GetAttributes(actx *fsal.AuthContext, h handle.Handle, mask fsal.AttrMask) (attrs fsal.Attributes, err error) {
	defer e.observe("getattr", time.Now(), &err)

	actx = e.caller(actx)
	h, err = e.canonical(actx, h)
	if err != nil {
		return fsal.Attributes{}, err
	}

	if h.Kind == handle.KindPseudoDir {
		attrs, err := e.pseudoAttrs(actx)
		if err != nil {
			return fsal.Attributes{}, err
		}
		return withMask(attrs, mask), nil
	}

	m, err := e.mountOf(h)
	if err != nil {
		return fsal.Attributes{}, err
	}

	st, err := m.Backend.Getattr(actx, h.BackendObject())
	if err != nil {
		if fsal.IsCode(err, fsal.ErrNotFound) || fsal.IsCode(err, fsal.ErrStale) {
			if cached, ok := e.cachedStat(h); ok {
				return withMask(e.attrsOf(m, &cached), mask), nil
			}
		}
		return fsal.Attributes{}, err
	}
	return withMask(e.attrsOf(m, &st), mask), nil
}
