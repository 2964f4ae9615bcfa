package export

import (
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
	"github.com/marmos91/fsal/pkg/registry"
)

// parentMount checks that dir is a writable directory and returns it in
// canonical form together with its instance. A dummy handle stands for
// the live root.
func (e *Export) parentMount(actx *fsal.AuthContext, dir handle.Handle, name string) (handle.Handle, *registry.Mount, error) {
	if err := checkMutable(dir); err != nil {
		return handle.Handle{}, nil, err
	}
	dir, err := e.canonical(actx, dir)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	switch dir.Kind {
	case handle.KindDirectory:
	case handle.KindJunction:
		return handle.Handle{}, nil, fsal.NewError(fsal.ErrCrossDevice, name, "parent is a junction")
	default:
		return handle.Handle{}, nil, fsal.NewError(fsal.ErrNotADirectory, name, "parent is a %s", dir.Kind)
	}
	m, err := e.mountOf(dir)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	return dir, m, nil
}

// Create makes a regular file called name in dir.
func (e *Export) Create(actx *fsal.AuthContext, dir handle.Handle, name string, mode uint32) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("create", time.Now(), &err)

	dir, m, err := e.parentMount(actx, dir, name)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	obj, st, err := m.Backend.Create(e.caller(actx), dir.BackendObject(), name, mode&fsal.ModePermission)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	return e.handleOf(m, obj), e.attrsOf(m, &st), nil
}

// Mkdir makes a directory called name in dir.
func (e *Export) Mkdir(actx *fsal.AuthContext, dir handle.Handle, name string, mode uint32) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("mkdir", time.Now(), &err)

	dir, m, err := e.parentMount(actx, dir, name)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	obj, st, err := m.Backend.Mkdir(e.caller(actx), dir.BackendObject(), name, mode&fsal.ModePermission)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	return e.handleOf(m, obj), e.attrsOf(m, &st), nil
}

// Symlink makes a symbolic link called name in dir pointing at target.
func (e *Export) Symlink(actx *fsal.AuthContext, dir handle.Handle, name, target string) (h handle.Handle, attrs fsal.Attributes, err error) {
	defer e.observe("symlink", time.Now(), &err)

	dir, m, err := e.parentMount(actx, dir, name)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	obj, st, err := m.Backend.Symlink(e.caller(actx), dir.BackendObject(), name, target)
	if err != nil {
		return handle.Handle{}, fsal.Attributes{}, err
	}
	return e.handleOf(m, obj), e.attrsOf(m, &st), nil
}

// Link adds the name name in dir for the existing object h.
func (e *Export) Link(actx *fsal.AuthContext, h handle.Handle, dir handle.Handle, name string) (err error) {
	defer e.observe("link", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return err
	}
	h, err = e.canonical(actx, h)
	if err != nil {
		return err
	}
	dir, m, err := e.parentMount(actx, dir, name)
	if err != nil {
		return err
	}
	if h.Kind.IsDirectory() || h.Kind == handle.KindJunction {
		return fsal.NewError(fsal.ErrPermissionDenied, name, "hard links to directories are not allowed")
	}
	return m.Backend.Link(e.caller(actx), h.BackendObject(), dir.BackendObject(), name)
}

// Unlink removes name from dir. Directories must be empty.
func (e *Export) Unlink(actx *fsal.AuthContext, dir handle.Handle, name string) (err error) {
	defer e.observe("unlink", time.Now(), &err)

	dir, m, err := e.parentMount(actx, dir, name)
	if err != nil {
		return err
	}
	if name == e.opts.PseudoDirName {
		if isRoot, rerr := e.isRoot(actx, m, dir.BackendObject()); rerr == nil && isRoot {
			return fsal.NewError(fsal.ErrReadOnlyFileSystem, name, "the snapshot directory cannot be removed")
		}
	}
	return m.Backend.Unlink(e.caller(actx), dir.BackendObject(), name)
}

// Rename moves srcName in srcDir to dstName in dstDir, replacing a
// compatible existing target.
func (e *Export) Rename(actx *fsal.AuthContext, srcDir handle.Handle, srcName string, dstDir handle.Handle, dstName string) (err error) {
	defer e.observe("rename", time.Now(), &err)

	srcDir, m, err := e.parentMount(actx, srcDir, srcName)
	if err != nil {
		return err
	}
	dstDir, _, err = e.parentMount(actx, dstDir, dstName)
	if err != nil {
		return err
	}
	return m.Backend.Rename(e.caller(actx), srcDir.BackendObject(), srcName, dstDir.BackendObject(), dstName)
}

// SetAttributes applies the attributes selected by attrs.Mask to h and
// returns the resulting attributes.
func (e *Export) SetAttributes(actx *fsal.AuthContext, h handle.Handle, attrs *fsal.Attributes) (out fsal.Attributes, err error) {
	defer e.observe("setattr", time.Now(), &err)

	if err := checkMutable(h); err != nil {
		return fsal.Attributes{}, err
	}
	h, err = e.canonical(actx, h)
	if err != nil {
		return fsal.Attributes{}, err
	}
	patch, err := fsal.FromGeneric(attrs, attrs.Mask)
	if err != nil {
		return fsal.Attributes{}, err
	}
	m, err := e.mountOf(h)
	if err != nil {
		return fsal.Attributes{}, err
	}

	st, err := m.Backend.Setattr(e.caller(actx), h.BackendObject(), patch)
	if err != nil {
		return fsal.Attributes{}, err
	}
	return e.attrsOf(m, &st), nil
}
