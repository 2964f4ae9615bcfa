// Package fsaltest is a conformance suite for writable fsal.Backend
// implementations.
package fsaltest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendTestSuite tests the fsal.Backend contract.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &fsaltest.BackendTestSuite{
//	        NewBackend: func(t *testing.T) fsal.Backend { return mybackend.New() },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend returns a fresh, empty, writable backend for each test.
	// The suite unmounts it on cleanup.
	NewBackend func(t *testing.T) fsal.Backend
}

// Run executes all tests in the suite.
func (s *BackendTestSuite) Run(t *testing.T) {
	t.Run("Identity", s.testIdentity)
	t.Run("CreateLookup", s.testCreateLookup)
	t.Run("NameErrors", s.testNameErrors)
	t.Run("ReadWrite", s.testReadWrite)
	t.Run("Readdir", s.testReaddir)
	t.Run("ReaddirResume", s.testReaddirResume)
	t.Run("Symlink", s.testSymlink)
	t.Run("HardLink", s.testHardLink)
	t.Run("Rename", s.testRename)
	t.Run("Unlink", s.testUnlink)
	t.Run("Setattr", s.testSetattr)
	t.Run("Xattrs", s.testXattrs)
	t.Run("Permissions", s.testPermissions)
}

type env struct {
	b    fsal.Backend
	actx *fsal.AuthContext
	root fsal.Object
}

func (s *BackendTestSuite) setup(t *testing.T) *env {
	t.Helper()
	b := s.NewBackend(t)
	t.Cleanup(func() { _ = b.Unmount() })

	actx := fsal.RootAuth(context.Background())
	root, st, err := b.Root(actx)
	require.NoError(t, err)
	require.Equal(t, fsal.FileTypeDirectory, fsal.FileTypeFromMode(st.Mode))
	return &env{b: b, actx: actx, root: root}
}

func (e *env) create(t *testing.T, dir fsal.Object, name string, data []byte) fsal.Object {
	t.Helper()
	obj, _, err := e.b.Create(e.actx, dir, name, 0o644)
	require.NoError(t, err)
	if len(data) == 0 {
		return obj
	}

	f, err := e.b.Open(e.actx, obj, fsal.OpenWrite)
	require.NoError(t, err)
	n, err := f.WriteAt(e.actx, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
	return obj
}

func (e *env) read(t *testing.T, obj fsal.Object) []byte {
	t.Helper()
	f, err := e.b.Open(e.actx, obj, fsal.OpenRead)
	require.NoError(t, err)
	defer f.Close()

	var out []byte
	buf := make([]byte, 5)
	for off := int64(0); ; {
		n, eof, err := f.ReadAt(e.actx, buf, off)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
		off += int64(n)
		if eof {
			return out
		}
		require.NotZero(t, n, "no progress before eof")
	}
}

func (e *env) names(t *testing.T, dir fsal.Object, cookie uint64) ([]string, []uint64) {
	t.Helper()
	var names []string
	var cookies []uint64
	err := e.b.Readdir(e.actx, dir, cookie, func(de fsal.DirEntry) bool {
		names = append(names, de.Name)
		cookies = append(cookies, de.Cookie)
		return true
	})
	require.NoError(t, err)
	return names, cookies
}

func requireCode(t *testing.T, err error, code fsal.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, fsal.CodeOf(err), "error: %v", err)
}

func (s *BackendTestSuite) testIdentity(t *testing.T) {
	e := s.setup(t)

	assert.NotEmpty(t, e.b.Name())
	assert.NotZero(t, e.b.BlockSize())
	assert.False(t, e.b.ReadOnly())
	assert.Len(t, e.root.ID, e.b.ObjectSize())

	again, _, err := e.b.Root(e.actx)
	require.NoError(t, err)
	assert.True(t, again.Same(e.root))

	dot, _, err := e.b.Lookup(e.actx, e.root, ".")
	require.NoError(t, err)
	assert.True(t, dot.Same(e.root))

	dotdot, _, err := e.b.Lookup(e.actx, e.root, "..")
	require.NoError(t, err)
	assert.True(t, dotdot.Same(e.root), "parent of the root is the root")
}

func (s *BackendTestSuite) testCreateLookup(t *testing.T) {
	e := s.setup(t)

	obj, st, err := e.b.Create(e.actx, e.root, "file", 0o640)
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeRegular, obj.Type)
	assert.Equal(t, uint32(0o640), st.Mode&fsal.ModePermission)
	assert.Zero(t, st.Size)
	assert.Len(t, obj.ID, e.b.ObjectSize())

	found, fst, err := e.b.Lookup(e.actx, e.root, "file")
	require.NoError(t, err)
	assert.True(t, found.Same(obj))
	assert.Equal(t, st.Ino, fst.Ino)

	got, err := e.b.Getattr(e.actx, obj)
	require.NoError(t, err)
	assert.Equal(t, st.Ino, got.Ino)

	dir, dst, err := e.b.Mkdir(e.actx, e.root, "dir", 0o755)
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeDirectory, dir.Type)
	assert.Equal(t, uint32(0o755), dst.Mode&fsal.ModePermission)

	parent, _, err := e.b.Lookup(e.actx, dir, "..")
	require.NoError(t, err)
	assert.True(t, parent.Same(e.root))

	_, _, err = e.b.Lookup(e.actx, e.root, "missing")
	requireCode(t, err, fsal.ErrNotFound)

	_, _, err = e.b.Create(e.actx, e.root, "file", 0o644)
	requireCode(t, err, fsal.ErrAlreadyExists)

	_, _, err = e.b.Mkdir(e.actx, e.root, "file", 0o755)
	requireCode(t, err, fsal.ErrAlreadyExists)

	_, _, err = e.b.Lookup(e.actx, obj, "x")
	requireCode(t, err, fsal.ErrNotADirectory)
}

func (s *BackendTestSuite) testNameErrors(t *testing.T) {
	e := s.setup(t)

	for _, name := range []string{"", "a/b"} {
		_, _, err := e.b.Create(e.actx, e.root, name, 0o644)
		requireCode(t, err, fsal.ErrInvalid)
	}

	long := string(bytes.Repeat([]byte("n"), 256))
	_, _, err := e.b.Create(e.actx, e.root, long, 0o644)
	requireCode(t, err, fsal.ErrNameTooLong)
}

func (s *BackendTestSuite) testReadWrite(t *testing.T) {
	e := s.setup(t)

	data := bytes.Repeat([]byte("0123456789"), 1000)
	obj := e.create(t, e.root, "data", data)
	assert.Equal(t, data, e.read(t, obj))

	st, err := e.b.Getattr(e.actx, obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), st.Size)

	f, err := e.b.Open(e.actx, obj, fsal.OpenRead|fsal.OpenWrite)
	require.NoError(t, err)
	_, err = f.WriteAt(e.actx, []byte("XY"), 3)
	require.NoError(t, err)
	require.NoError(t, f.Sync(e.actx))

	buf := make([]byte, 6)
	n, eof, err := f.ReadAt(e.actx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.False(t, eof)
	assert.Equal(t, "012XY5", string(buf))

	n, eof, err = f.ReadAt(e.actx, buf, int64(len(data)))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, eof)
	require.NoError(t, f.Close())

	f, err = e.b.Open(e.actx, obj, fsal.OpenWrite|fsal.OpenTruncate)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	st, err = e.b.Getattr(e.actx, obj)
	require.NoError(t, err)
	assert.Zero(t, st.Size)

	dir, _, err := e.b.Mkdir(e.actx, e.root, "dir", 0o755)
	require.NoError(t, err)
	_, err = e.b.Open(e.actx, dir, fsal.OpenRead)
	requireCode(t, err, fsal.ErrIsADirectory)
}

func (s *BackendTestSuite) testReaddir(t *testing.T) {
	e := s.setup(t)

	want := []string{"a", "b", "c", "d"}
	for _, name := range want {
		e.create(t, e.root, name, nil)
	}
	_, _, err := e.b.Mkdir(e.actx, e.root, "sub", 0o755)
	require.NoError(t, err)
	want = append(want, "sub")

	var got []string
	seen := map[uint64]bool{}
	err = e.b.Readdir(e.actx, e.root, 0, func(de fsal.DirEntry) bool {
		got = append(got, de.Name)
		assert.NotZero(t, de.Cookie)
		assert.False(t, seen[de.Cookie], "duplicate cookie %d", de.Cookie)
		seen[de.Cookie] = true

		obj, st, err := e.b.Lookup(e.actx, e.root, de.Name)
		require.NoError(t, err)
		assert.True(t, obj.Same(de.Object))
		assert.Equal(t, st.Ino, de.Stat.Ino)
		return true
	})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, want, got)

	file, _, err := e.b.Lookup(e.actx, e.root, "a")
	require.NoError(t, err)
	err = e.b.Readdir(e.actx, file, 0, func(fsal.DirEntry) bool { return true })
	requireCode(t, err, fsal.ErrNotADirectory)
}

func (s *BackendTestSuite) testReaddirResume(t *testing.T) {
	e := s.setup(t)

	for i := range 10 {
		e.create(t, e.root, fmt.Sprintf("f%02d", i), nil)
	}
	all, cookies := e.names(t, e.root, 0)
	require.Len(t, all, 10)

	// Stop after three entries and resume from the last cookie.
	var first []string
	var last uint64
	err := e.b.Readdir(e.actx, e.root, 0, func(de fsal.DirEntry) bool {
		first = append(first, de.Name)
		last = de.Cookie
		return len(first) < 3
	})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, cookies[2], last)

	rest, _ := e.names(t, e.root, last)
	assert.Equal(t, all[3:], rest)

	end, _ := e.names(t, e.root, cookies[len(cookies)-1])
	assert.Empty(t, end)
}

func (s *BackendTestSuite) testSymlink(t *testing.T) {
	e := s.setup(t)

	link, st, err := e.b.Symlink(e.actx, e.root, "link", "some/where")
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeSymlink, link.Type)
	assert.Equal(t, fsal.FileTypeSymlink, fsal.FileTypeFromMode(st.Mode))

	target, err := e.b.Readlink(e.actx, link)
	require.NoError(t, err)
	assert.Equal(t, "some/where", target)

	file := e.create(t, e.root, "file", nil)
	_, err = e.b.Readlink(e.actx, file)
	requireCode(t, err, fsal.ErrInvalid)
}

func (s *BackendTestSuite) testHardLink(t *testing.T) {
	e := s.setup(t)

	obj := e.create(t, e.root, "orig", []byte("shared"))
	dir, _, err := e.b.Mkdir(e.actx, e.root, "dir", 0o755)
	require.NoError(t, err)

	require.NoError(t, e.b.Link(e.actx, obj, dir, "alias"))
	alias, st, err := e.b.Lookup(e.actx, dir, "alias")
	require.NoError(t, err)
	assert.True(t, alias.Same(obj))
	assert.Equal(t, uint32(2), st.Nlink)

	require.NoError(t, e.b.Unlink(e.actx, e.root, "orig"))
	assert.Equal(t, []byte("shared"), e.read(t, alias))

	err = e.b.Link(e.actx, alias, dir, "alias")
	requireCode(t, err, fsal.ErrAlreadyExists)
}

func (s *BackendTestSuite) testRename(t *testing.T) {
	e := s.setup(t)

	a, _, err := e.b.Mkdir(e.actx, e.root, "a", 0o755)
	require.NoError(t, err)
	b, _, err := e.b.Mkdir(e.actx, e.root, "b", 0o755)
	require.NoError(t, err)
	obj := e.create(t, a, "file", []byte("moved"))

	require.NoError(t, e.b.Rename(e.actx, a, "file", b, "renamed"))
	_, _, err = e.b.Lookup(e.actx, a, "file")
	requireCode(t, err, fsal.ErrNotFound)

	moved, _, err := e.b.Lookup(e.actx, b, "renamed")
	require.NoError(t, err)
	assert.True(t, moved.Same(obj))
	assert.Equal(t, []byte("moved"), e.read(t, obj), "old object id still resolves")

	// Overwrite an existing file.
	e.create(t, b, "victim", []byte("old"))
	require.NoError(t, e.b.Rename(e.actx, b, "renamed", b, "victim"))
	got, _, err := e.b.Lookup(e.actx, b, "victim")
	require.NoError(t, err)
	assert.True(t, got.Same(obj))

	// Directory renames carry their contents.
	require.NoError(t, e.b.Rename(e.actx, e.root, "b", a, "b2"))
	inner, _, err := e.b.Lookup(e.actx, a, "b2")
	require.NoError(t, err)
	assert.True(t, inner.Same(b))
	_, _, err = e.b.Lookup(e.actx, inner, "victim")
	require.NoError(t, err)

	err = e.b.Rename(e.actx, e.root, "a", inner, "loop")
	requireCode(t, err, fsal.ErrInvalid)

	err = e.b.Rename(e.actx, e.root, "missing", e.root, "x")
	requireCode(t, err, fsal.ErrNotFound)
}

func (s *BackendTestSuite) testUnlink(t *testing.T) {
	e := s.setup(t)

	dir, _, err := e.b.Mkdir(e.actx, e.root, "dir", 0o755)
	require.NoError(t, err)
	e.create(t, dir, "file", nil)

	err = e.b.Unlink(e.actx, e.root, "dir")
	requireCode(t, err, fsal.ErrNotEmpty)

	require.NoError(t, e.b.Unlink(e.actx, dir, "file"))
	require.NoError(t, e.b.Unlink(e.actx, e.root, "dir"))

	_, _, err = e.b.Lookup(e.actx, e.root, "dir")
	requireCode(t, err, fsal.ErrNotFound)

	err = e.b.Unlink(e.actx, e.root, "dir")
	requireCode(t, err, fsal.ErrNotFound)
}

func (s *BackendTestSuite) testSetattr(t *testing.T) {
	e := s.setup(t)
	obj := e.create(t, e.root, "file", []byte("0123456789"))

	st, err := e.b.Setattr(e.actx, obj, fsal.NativePatch{Mask: fsal.PatchMode, Mode: 0o600})
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), st.Mode&fsal.ModePermission)
	assert.Equal(t, fsal.FileTypeRegular, fsal.FileTypeFromMode(st.Mode))

	st, err = e.b.Setattr(e.actx, obj, fsal.NativePatch{Mask: fsal.PatchSize, Size: 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Size)
	assert.Equal(t, []byte("0123"), e.read(t, obj))

	st, err = e.b.Setattr(e.actx, obj, fsal.NativePatch{Mask: fsal.PatchSize, Size: 8})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), st.Size)
	assert.Equal(t, []byte("0123\x00\x00\x00\x00"), e.read(t, obj), "extension reads as zeros")

	when := time.Date(2001, 2, 3, 4, 5, 6, 7000, time.UTC)
	st, err = e.b.Setattr(e.actx, obj, fsal.NativePatch{
		Mask:  fsal.PatchAtime | fsal.PatchMtime,
		Atime: when,
		Mtime: when,
	})
	require.NoError(t, err)
	assert.True(t, st.Mtime.Equal(when), "mtime %v", st.Mtime)
	assert.True(t, st.Atime.Equal(when), "atime %v", st.Atime)

	before := time.Now().Add(-time.Minute)
	st, err = e.b.Setattr(e.actx, obj, fsal.NativePatch{Mask: fsal.PatchMtimeNow})
	require.NoError(t, err)
	assert.True(t, st.Mtime.After(before))
	assert.True(t, st.Atime.Equal(when), "atime untouched")

	dir, _, err := e.b.Mkdir(e.actx, e.root, "dir", 0o755)
	require.NoError(t, err)
	_, err = e.b.Setattr(e.actx, dir, fsal.NativePatch{Mask: fsal.PatchSize, Size: 0})
	requireCode(t, err, fsal.ErrIsADirectory)
}

func (s *BackendTestSuite) testXattrs(t *testing.T) {
	e := s.setup(t)
	obj := e.create(t, e.root, "file", nil)

	err := e.b.SetXattr(e.actx, obj, "color", []byte("blue"), 0)
	if fsal.IsCode(err, fsal.ErrUnsupported) {
		t.Skip("extended attributes unsupported here")
	}
	require.NoError(t, err)
	require.NoError(t, e.b.SetXattr(e.actx, obj, "alpha", []byte("1"), fsal.XattrCreate))

	names, err := e.b.ListXattrs(e.actx, obj)
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"alpha", "color"}, names)

	v, err := e.b.GetXattr(e.actx, obj, "color")
	require.NoError(t, err)
	assert.Equal(t, []byte("blue"), v)

	err = e.b.SetXattr(e.actx, obj, "alpha", []byte("2"), fsal.XattrCreate)
	requireCode(t, err, fsal.ErrAlreadyExists)
	err = e.b.SetXattr(e.actx, obj, "beta", []byte("2"), fsal.XattrReplace)
	requireCode(t, err, fsal.ErrNotFound)

	require.NoError(t, e.b.SetXattr(e.actx, obj, "color", []byte("red"), fsal.XattrReplace))
	v, err = e.b.GetXattr(e.actx, obj, "color")
	require.NoError(t, err)
	assert.Equal(t, []byte("red"), v)

	require.NoError(t, e.b.RemoveXattr(e.actx, obj, "alpha"))
	_, err = e.b.GetXattr(e.actx, obj, "alpha")
	requireCode(t, err, fsal.ErrNotFound)
	err = e.b.RemoveXattr(e.actx, obj, "alpha")
	requireCode(t, err, fsal.ErrNotFound)
}

func (s *BackendTestSuite) testPermissions(t *testing.T) {
	e := s.setup(t)
	secret := e.create(t, e.root, "secret", []byte("root only"))
	st, err := e.b.Setattr(e.actx, secret, fsal.NativePatch{Mask: fsal.PatchMode, Mode: 0o600})
	require.NoError(t, err)
	rootSt, err := e.b.Setattr(e.actx, e.root, fsal.NativePatch{Mask: fsal.PatchMode, Mode: 0o755})
	require.NoError(t, err)
	private, _, err := e.b.Mkdir(e.actx, e.root, "private", 0o700)
	require.NoError(t, err)

	const strangerID = 54321
	require.NotEqual(t, uint32(strangerID), st.UID)
	require.NotEqual(t, uint32(strangerID), rootSt.UID)
	stranger := &fsal.AuthContext{Context: context.Background(), UID: strangerID, GID: strangerID}

	t.Run("Stranger", func(t *testing.T) {
		_, err := e.b.Open(stranger, secret, fsal.OpenRead|fsal.OpenWrite)
		requireCode(t, err, fsal.ErrPermissionDenied)
		_, err = e.b.Open(stranger, secret, fsal.OpenRead)
		requireCode(t, err, fsal.ErrPermissionDenied)

		_, err = e.b.Setattr(stranger, secret, fsal.NativePatch{Mask: fsal.PatchMode, Mode: 0o777})
		requireCode(t, err, fsal.ErrPermissionDenied)
		_, err = e.b.Setattr(stranger, secret, fsal.NativePatch{Mask: fsal.PatchSize, Size: 0})
		requireCode(t, err, fsal.ErrPermissionDenied)
		_, err = e.b.Setattr(stranger, secret, fsal.NativePatch{Mask: fsal.PatchUID, UID: strangerID})
		requireCode(t, err, fsal.ErrPermissionDenied)

		_, err = e.b.GetXattr(stranger, secret, "color")
		requireCode(t, err, fsal.ErrPermissionDenied)
		err = e.b.SetXattr(stranger, secret, "color", []byte("red"), 0)
		requireCode(t, err, fsal.ErrPermissionDenied)

		err = e.b.Unlink(stranger, e.root, "secret")
		requireCode(t, err, fsal.ErrPermissionDenied)
		err = e.b.Rename(stranger, e.root, "secret", e.root, "stolen")
		requireCode(t, err, fsal.ErrPermissionDenied)
		_, _, err = e.b.Create(stranger, e.root, "mine", 0o644)
		requireCode(t, err, fsal.ErrPermissionDenied)
		_, _, err = e.b.Mkdir(stranger, e.root, "mine", 0o755)
		requireCode(t, err, fsal.ErrPermissionDenied)
		err = e.b.Link(stranger, secret, e.root, "alias")
		requireCode(t, err, fsal.ErrPermissionDenied)

		_, _, err = e.b.Lookup(stranger, private, "anything")
		requireCode(t, err, fsal.ErrPermissionDenied)
		err = e.b.Readdir(stranger, private, 0, func(fsal.DirEntry) bool { return true })
		requireCode(t, err, fsal.ErrPermissionDenied)

		// A world-readable directory can still be searched and its
		// entries inspected.
		found, _, err := e.b.Lookup(stranger, e.root, "secret")
		require.NoError(t, err)
		assert.True(t, found.Same(secret))
		got, err := e.b.Getattr(stranger, secret)
		require.NoError(t, err)
		assert.Equal(t, uint32(0o600), got.Mode&fsal.ModePermission)
	})

	t.Run("Owner", func(t *testing.T) {
		owner := &fsal.AuthContext{Context: context.Background(), UID: st.UID, GID: st.GID}
		f, err := e.b.Open(owner, secret, fsal.OpenRead)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})

	assert.Equal(t, []byte("root only"), e.read(t, secret))
	names, _ := e.names(t, e.root, 0)
	assert.Contains(t, names, "secret")
	assert.NotContains(t, names, "mine")
	assert.NotContains(t, names, "stolen")
}
