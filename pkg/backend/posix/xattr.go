//go:build linux

package posix

import (
	"errors"
	"sort"
	"strings"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/pkg/xattr"
)

// Extended attributes live in the kernel's user namespace. Names are
// exposed without the prefix; other namespaces are not visible.
const userNamespace = "user."

func xattrErr(err error, op, name string) error {
	if err == nil {
		return nil
	}
	var xe *xattr.Error
	if errors.As(err, &xe) {
		err = xe.Err
	}
	return fsal.FromErrno(err, op, name)
}

func (b *Backend) ListXattrs(actx *fsal.AuthContext, obj fsal.Object) ([]string, error) {
	path, err := b.pathOf(obj)
	if err != nil {
		return nil, err
	}
	raw, err := xattr.LList(path)
	if err != nil {
		return nil, xattrErr(err, "listxattr", b.rel(path))
	}

	names := make([]string, 0, len(raw))
	for _, n := range raw {
		if strings.HasPrefix(n, userNamespace) {
			names = append(names, strings.TrimPrefix(n, userNamespace))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) GetXattr(actx *fsal.AuthContext, obj fsal.Object, name string) ([]byte, error) {
	path, err := b.pathOf(obj)
	if err != nil {
		return nil, err
	}
	if err := b.access(actx, path, fsal.AccessRead, "getxattr", name); err != nil {
		return nil, err
	}
	v, err := xattr.LGet(path, userNamespace+name)
	if err != nil {
		return nil, xattrErr(err, "getxattr", name)
	}
	return v, nil
}

func (b *Backend) SetXattr(actx *fsal.AuthContext, obj fsal.Object, name string, value []byte, flags int) error {
	if name == "" {
		return fsal.NewError(fsal.ErrInvalid, "", "empty xattr name")
	}
	path, err := b.pathOf(obj)
	if err != nil {
		return err
	}

	if err := b.access(actx, path, fsal.AccessWrite, "setxattr", name); err != nil {
		return err
	}

	var xflags int
	switch {
	case flags&fsal.XattrCreate != 0:
		xflags = xattr.XATTR_CREATE
	case flags&fsal.XattrReplace != 0:
		xflags = xattr.XATTR_REPLACE
	}
	return xattrErr(xattr.LSetWithFlags(path, userNamespace+name, value, xflags), "setxattr", name)
}

func (b *Backend) RemoveXattr(actx *fsal.AuthContext, obj fsal.Object, name string) error {
	path, err := b.pathOf(obj)
	if err != nil {
		return err
	}
	if err := b.access(actx, path, fsal.AccessWrite, "removexattr", name); err != nil {
		return err
	}
	return xattrErr(xattr.LRemove(path, userNamespace+name), "removexattr", name)
}
