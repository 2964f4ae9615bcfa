//go:build linux

package posix

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/fsal"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sys/unix"
)

const maxNameLen = 255

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fsal.NewError(fsal.ErrInvalid, name, "invalid name")
	}
	if len(name) > maxNameLen {
		return fsal.NewError(fsal.ErrNameTooLong, name, "name too long")
	}
	return nil
}

// access lstats path and checks that the caller holds want on it.
func (b *Backend) access(actx *fsal.AuthContext, path string, want uint32, op, name string) error {
	st, err := lstat(path)
	if err != nil {
		return fsal.FromErrno(err, op, name)
	}
	return fsal.CheckAccess(actx, ownership(st), want, name)
}

// dirAccess is access for a directory argument.
func (b *Backend) dirAccess(actx *fsal.AuthContext, dirPath string, want uint32, op, name string) error {
	st, err := lstat(dirPath)
	if err != nil {
		return fsal.FromErrno(err, op, name)
	}
	if uint32(st.Mode)&fsal.ModeTypeMask != fsal.ModeDirectory {
		return fsal.NewError(fsal.ErrNotADirectory, name, "parent is not a directory")
	}
	return fsal.CheckAccess(actx, ownership(st), want, name)
}

// child resolves dir, checks that the caller may change its entries and
// joins name to it.
func (b *Backend) child(actx *fsal.AuthContext, dir fsal.Object, name, op string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	dirPath, err := b.pathOf(dir)
	if err != nil {
		return "", err
	}
	if err := b.dirAccess(actx, dirPath, fsal.AccessWrite|fsal.AccessExecute, op, name); err != nil {
		return "", err
	}
	return filepath.Join(dirPath, name), nil
}

// found stats path, builds its object and records it under dir/name.
func (b *Backend) found(dir fsal.Object, name, path, op string) (fsal.Object, fsal.NativeStat, error) {
	st, err := lstat(path)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, op, name)
	}
	obj, err := b.object(path, st)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}
	b.remember(string(obj.ID), string(dir.ID), name, st.Ino)
	return obj, toNative(st), nil
}

// chownNew hands a freshly created object to the caller when the server
// runs as root; otherwise the kernel already assigned the server's ids.
func (b *Backend) chownNew(actx *fsal.AuthContext, path string) error {
	if !b.asRoot || actx == nil || (actx.UID == 0 && actx.GID == 0) {
		return nil
	}
	if err := unix.Lchown(path, int(actx.UID), int(actx.GID)); err != nil {
		return err
	}
	return nil
}

func (b *Backend) Root(actx *fsal.AuthContext) (fsal.Object, fsal.NativeStat, error) {
	st, err := lstat(b.root)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "root", b.root)
	}
	obj, err := b.object(b.root, st)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}
	return obj, toNative(st), nil
}

func (b *Backend) Lookup(actx *fsal.AuthContext, dir fsal.Object, name string) (fsal.Object, fsal.NativeStat, error) {
	dirPath, err := b.pathOf(dir)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}
	if err := b.dirAccess(actx, dirPath, fsal.AccessExecute, "lookup", name); err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}

	switch name {
	case ".":
		st, err := lstat(dirPath)
		if err != nil {
			return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "lookup", name)
		}
		return dir, toNative(st), nil

	case "..":
		path := b.root
		if dirPath != b.root {
			path = filepath.Dir(dirPath)
		}
		st, err := lstat(path)
		if err != nil {
			return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "lookup", name)
		}
		obj, err := b.object(path, st)
		if err != nil {
			return fsal.Object{}, fsal.NativeStat{}, err
		}
		if string(obj.ID) != b.rootKey {
			b.paths.Set(string(obj.ID), pathEntry{abs: path, ino: st.Ino}, cache.DefaultExpiration)
		}
		return obj, toNative(st), nil
	}

	if err := validateName(name); err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}
	return b.found(dir, name, filepath.Join(dirPath, name), "lookup")
}

func (b *Backend) Getattr(actx *fsal.AuthContext, obj fsal.Object) (fsal.NativeStat, error) {
	path, err := b.pathOf(obj)
	if err != nil {
		return fsal.NativeStat{}, err
	}
	st, err := lstat(path)
	if err != nil {
		return fsal.NativeStat{}, fsal.FromErrno(err, "getattr", b.rel(path))
	}
	return toNative(st), nil
}

// Setattr applies the patch with one system call per attribute group.
// Birth time cannot be set on Linux.
func (b *Backend) Setattr(actx *fsal.AuthContext, obj fsal.Object, patch fsal.NativePatch) (fsal.NativeStat, error) {
	if patch.Has(fsal.PatchBtime) {
		return fsal.NativeStat{}, fsal.NewError(fsal.ErrUnsupported, "", "creation time cannot be set")
	}

	path, err := b.pathOf(obj)
	if err != nil {
		return fsal.NativeStat{}, err
	}
	rel := b.rel(path)
	st, err := lstat(path)
	if err != nil {
		return fsal.NativeStat{}, fsal.FromErrno(err, "setattr", rel)
	}
	if err := fsal.CheckSetattr(actx, ownership(st), &patch); err != nil {
		return fsal.NativeStat{}, err
	}
	isLink := uint32(st.Mode)&fsal.ModeTypeMask == fsal.ModeSymlink

	if patch.Has(fsal.PatchMode) && !isLink {
		if err := unix.Chmod(path, patch.Mode&fsal.ModePermission); err != nil {
			return fsal.NativeStat{}, fsal.FromErrno(err, "chmod", rel)
		}
	}

	if patch.Has(fsal.PatchUID) || patch.Has(fsal.PatchGID) {
		uid, gid := -1, -1
		if patch.Has(fsal.PatchUID) {
			uid = int(patch.UID)
		}
		if patch.Has(fsal.PatchGID) {
			gid = int(patch.GID)
		}
		if err := unix.Lchown(path, uid, gid); err != nil {
			return fsal.NativeStat{}, fsal.FromErrno(err, "chown", rel)
		}
	}

	if patch.Has(fsal.PatchSize) {
		if err := unix.Truncate(path, int64(patch.Size)); err != nil {
			return fsal.NativeStat{}, fsal.FromErrno(err, "truncate", rel)
		}
	}

	if patch.Mask&(fsal.PatchAtime|fsal.PatchMtime|fsal.PatchAtimeNow|fsal.PatchMtimeNow) != 0 {
		ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		switch {
		case patch.Has(fsal.PatchAtimeNow):
			ts[0] = unix.Timespec{Nsec: unix.UTIME_NOW}
		case patch.Has(fsal.PatchAtime):
			ts[0] = timespec(patch.Atime)
		}
		switch {
		case patch.Has(fsal.PatchMtimeNow):
			ts[1] = unix.Timespec{Nsec: unix.UTIME_NOW}
		case patch.Has(fsal.PatchMtime):
			ts[1] = timespec(patch.Mtime)
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fsal.NativeStat{}, fsal.FromErrno(err, "utimes", rel)
		}
	}

	st, err = lstat(path)
	if err != nil {
		return fsal.NativeStat{}, fsal.FromErrno(err, "setattr", rel)
	}
	return toNative(st), nil
}

func (b *Backend) Create(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	path, err := b.child(actx, dir, name, "create")
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}

	perm := mode & fsal.ModePermission
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, perm)
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "create", name)
	}
	err = unix.Fchmod(fd, perm)
	_ = unix.Close(fd)
	if err == nil {
		err = b.chownNew(actx, path)
	}
	if err != nil {
		_ = unix.Unlink(path)
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "create", name)
	}

	logger.Debug("posix: created %s", b.rel(path))
	return b.found(dir, name, path, "create")
}

func (b *Backend) Mkdir(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	path, err := b.child(actx, dir, name, "mkdir")
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}

	perm := mode & fsal.ModePermission
	if err := unix.Mkdir(path, perm); err != nil {
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "mkdir", name)
	}
	err = unix.Chmod(path, perm)
	if err == nil {
		err = b.chownNew(actx, path)
	}
	if err != nil {
		_ = unix.Rmdir(path)
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "mkdir", name)
	}

	return b.found(dir, name, path, "mkdir")
}

func (b *Backend) Symlink(actx *fsal.AuthContext, dir fsal.Object, name, target string) (fsal.Object, fsal.NativeStat, error) {
	if target == "" {
		return fsal.Object{}, fsal.NativeStat{}, fsal.NewError(fsal.ErrInvalid, name, "empty symlink target")
	}
	path, err := b.child(actx, dir, name, "symlink")
	if err != nil {
		return fsal.Object{}, fsal.NativeStat{}, err
	}

	if err := unix.Symlink(target, path); err != nil {
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "symlink", name)
	}
	if err := b.chownNew(actx, path); err != nil {
		_ = unix.Unlink(path)
		return fsal.Object{}, fsal.NativeStat{}, fsal.FromErrno(err, "symlink", name)
	}

	return b.found(dir, name, path, "symlink")
}

func (b *Backend) Link(actx *fsal.AuthContext, obj fsal.Object, dir fsal.Object, name string) error {
	src, err := b.pathOf(obj)
	if err != nil {
		return err
	}
	path, err := b.child(actx, dir, name, "link")
	if err != nil {
		return err
	}
	if err := unix.Link(src, path); err != nil {
		return fsal.FromErrno(err, "link", name)
	}
	return nil
}

func (b *Backend) Unlink(actx *fsal.AuthContext, dir fsal.Object, name string) error {
	path, err := b.child(actx, dir, name, "unlink")
	if err != nil {
		return err
	}

	st, err := lstat(path)
	if err != nil {
		return fsal.FromErrno(err, "unlink", name)
	}
	// Forget the path only if it went through this name; other hard links
	// keep resolving.
	if obj, err := b.object(path, st); err == nil {
		if v, ok := b.paths.Get(string(obj.ID)); ok {
			if e := v.(pathEntry); e.parent == string(dir.ID) && e.name == name {
				b.paths.Delete(string(obj.ID))
			}
		}
	}

	if uint32(st.Mode)&fsal.ModeTypeMask == fsal.ModeDirectory {
		err = unix.Rmdir(path)
	} else {
		err = unix.Unlink(path)
	}
	return fsal.FromErrno(err, "unlink", name)
}

func (b *Backend) Rename(actx *fsal.AuthContext, srcDir fsal.Object, srcName string, dstDir fsal.Object, dstName string) error {
	src, err := b.child(actx, srcDir, srcName, "rename")
	if err != nil {
		return err
	}
	dst, err := b.child(actx, dstDir, dstName, "rename")
	if err != nil {
		return err
	}

	st, err := lstat(src)
	if err != nil {
		return fsal.FromErrno(err, "rename", srcName)
	}
	if err := unix.Rename(src, dst); err != nil {
		return fsal.FromErrno(err, "rename", srcName)
	}

	if obj, err := b.object(dst, st); err == nil {
		b.remember(string(obj.ID), string(dstDir.ID), dstName, st.Ino)
	}
	return nil
}

func (b *Backend) Readlink(actx *fsal.AuthContext, obj fsal.Object) (string, error) {
	path, err := b.pathOf(obj)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(path)
	if err != nil {
		return "", fsal.FromErrno(err, "readlink", b.rel(path))
	}
	return target, nil
}

// Readdir lists dir sorted by name. The cookie of an entry is its
// position in that order plus one, so a listing resumes correctly as long
// as the directory is unchanged.
func (b *Backend) Readdir(actx *fsal.AuthContext, dir fsal.Object, cookie uint64, fn func(fsal.DirEntry) bool) error {
	dirPath, err := b.pathOf(dir)
	if err != nil {
		return err
	}
	st, err := lstat(dirPath)
	if err != nil {
		return fsal.FromErrno(err, "readdir", b.rel(dirPath))
	}
	if uint32(st.Mode)&fsal.ModeTypeMask != fsal.ModeDirectory {
		return fsal.NewError(fsal.ErrNotADirectory, b.rel(dirPath), "readdir of non-directory")
	}
	if err := fsal.CheckAccess(actx, ownership(st), fsal.AccessRead, b.rel(dirPath)); err != nil {
		return err
	}

	f, err := os.Open(dirPath)
	if err != nil {
		return fsal.FromErrno(err, "readdir", b.rel(dirPath))
	}
	names, err := f.Readdirnames(-1)
	_ = f.Close()
	if err != nil {
		return fsal.FromErrno(err, "readdir", b.rel(dirPath))
	}
	sort.Strings(names)

	for i, name := range names {
		c := uint64(i + 1)
		if c <= cookie {
			continue
		}
		path := filepath.Join(dirPath, name)
		st, err := lstat(path)
		if err != nil {
			// Removed since the listing was read.
			continue
		}
		obj, err := b.object(path, st)
		if err != nil {
			return err
		}
		b.remember(string(obj.ID), string(dir.ID), name, st.Ino)
		if !fn(fsal.DirEntry{Name: name, Cookie: c, Object: obj, Stat: toNative(st)}) {
			break
		}
	}
	return nil
}
