package export_test

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/fsal/pkg/backend/cow"
	"github.com/marmos91/fsal/pkg/blockstore/memory"
	"github.com/marmos91/fsal/pkg/export"
	"github.com/marmos91/fsal/pkg/extattr"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
	"github.com/marmos91/fsal/pkg/kv/badgerkv"
	"github.com/marmos91/fsal/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv is an export over an in-memory COW volume.
type testEnv struct {
	t    *testing.T
	vol  *cow.Volume
	live *cow.Dataset
	exp  *export.Export
	actx *fsal.AuthContext

	// wrap, when set, decorates every dataset before it is mounted
	wrap func(fsal.Backend) fsal.Backend
}

func newTestEnv(t *testing.T, opts export.Options) *testEnv {
	t.Helper()
	return newWrappedTestEnv(t, opts, nil)
}

func newWrappedTestEnv(t *testing.T, opts export.Options, wrap func(fsal.Backend) fsal.Backend) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := badgerkv.Open(ctx, badgerkv.Config{InMemory: true})
	require.NoError(t, err)
	vol, err := cow.Open(ctx, store, memory.New(), cow.Options{RecordSize: 512})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vol.Close() })

	live, err := vol.Mount(ctx, "")
	require.NoError(t, err)

	env := &testEnv{t: t, vol: vol, live: live, actx: fsal.RootAuth(ctx), wrap: wrap}
	exp, err := export.New(registry.New(env.mountable(live)), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })
	env.exp = exp

	return env
}

func (env *testEnv) mountable(ds *cow.Dataset) fsal.Backend {
	if env.wrap == nil {
		return ds
	}
	return env.wrap(ds)
}

// snapshot takes a volume snapshot and mounts it in the export.
func (env *testEnv) snapshot(name string) *registry.Mount {
	env.t.Helper()
	ctx := context.Background()
	_, err := env.vol.Snapshot(ctx, name)
	require.NoError(env.t, err)
	ds, err := env.vol.Mount(ctx, name)
	require.NoError(env.t, err)
	m, err := env.exp.AddSnapshot(name, env.mountable(ds))
	require.NoError(env.t, err)
	return m
}

// recordingBackend logs every mutating call that reaches the backend it
// wraps.
type recordingBackend struct {
	fsal.Backend

	mu    sync.Mutex
	calls []string
}

func (r *recordingBackend) record(op string) {
	r.mu.Lock()
	r.calls = append(r.calls, op)
	r.mu.Unlock()
}

func (r *recordingBackend) mutations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingBackend) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *recordingBackend) Setattr(actx *fsal.AuthContext, obj fsal.Object, patch fsal.NativePatch) (fsal.NativeStat, error) {
	r.record("setattr")
	return r.Backend.Setattr(actx, obj, patch)
}

func (r *recordingBackend) Create(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	r.record("create")
	return r.Backend.Create(actx, dir, name, mode)
}

func (r *recordingBackend) Mkdir(actx *fsal.AuthContext, dir fsal.Object, name string, mode uint32) (fsal.Object, fsal.NativeStat, error) {
	r.record("mkdir")
	return r.Backend.Mkdir(actx, dir, name, mode)
}

func (r *recordingBackend) Symlink(actx *fsal.AuthContext, dir fsal.Object, name, target string) (fsal.Object, fsal.NativeStat, error) {
	r.record("symlink")
	return r.Backend.Symlink(actx, dir, name, target)
}

func (r *recordingBackend) Link(actx *fsal.AuthContext, obj fsal.Object, dir fsal.Object, name string) error {
	r.record("link")
	return r.Backend.Link(actx, obj, dir, name)
}

func (r *recordingBackend) Unlink(actx *fsal.AuthContext, dir fsal.Object, name string) error {
	r.record("unlink")
	return r.Backend.Unlink(actx, dir, name)
}

func (r *recordingBackend) Rename(actx *fsal.AuthContext, srcDir fsal.Object, srcName string, dstDir fsal.Object, dstName string) error {
	r.record("rename")
	return r.Backend.Rename(actx, srcDir, srcName, dstDir, dstName)
}

func (r *recordingBackend) Open(actx *fsal.AuthContext, obj fsal.Object, flags int) (fsal.File, error) {
	if flags&(fsal.OpenWrite|fsal.OpenTruncate|fsal.OpenAppend) != 0 {
		r.record("open for writing")
	}
	return r.Backend.Open(actx, obj, flags)
}

func (r *recordingBackend) SetXattr(actx *fsal.AuthContext, obj fsal.Object, name string, value []byte, flags int) error {
	r.record("setxattr")
	return r.Backend.SetXattr(actx, obj, name, value, flags)
}

func (r *recordingBackend) RemoveXattr(actx *fsal.AuthContext, obj fsal.Object, name string) error {
	r.record("removexattr")
	return r.Backend.RemoveXattr(actx, obj, name)
}

func (env *testEnv) root() handle.Handle {
	env.t.Helper()
	h, _, err := env.exp.Root(env.actx)
	require.NoError(env.t, err)
	return h
}

// writeFile creates name in dir with content.
func (env *testEnv) writeFile(dir handle.Handle, name, content string) handle.Handle {
	env.t.Helper()
	h, _, err := env.exp.Create(env.actx, dir, name, 0o644)
	require.NoError(env.t, err)
	env.overwrite(h, content)
	return h
}

func (env *testEnv) overwrite(h handle.Handle, content string) {
	env.t.Helper()
	s, err := env.exp.Open(env.actx, h, fsal.OpenWrite|fsal.OpenTruncate)
	require.NoError(env.t, err)
	_, err = s.Write(env.actx, 0, []byte(content))
	require.NoError(env.t, err)
	require.NoError(env.t, s.Commit(env.actx))
	require.NoError(env.t, s.Close())
}

func (env *testEnv) readFile(h handle.Handle) string {
	env.t.Helper()
	s, err := env.exp.Open(env.actx, h, fsal.OpenRead)
	require.NoError(env.t, err)
	defer func() { _ = s.Close() }()

	var out []byte
	buf := make([]byte, 7)
	var off int64
	for {
		n, eof, err := s.Read(env.actx, off, buf)
		require.NoError(env.t, err)
		out = append(out, buf[:n]...)
		off += int64(n)
		if eof || n == 0 {
			return string(out)
		}
	}
}

func requireCode(t *testing.T, err error, code fsal.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, fsal.CodeOf(err), "error: %v", err)
}

func TestRootHasTagZero(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	env.snapshot("hourly.0")

	h, attrs, err := env.exp.Root(env.actx)
	require.NoError(t, err)
	assert.Equal(t, handle.KindDirectory, h.Kind)
	assert.Zero(t, h.Snapshot)
	assert.Equal(t, fsal.FileTypeDirectory, attrs.Type)
}

func TestPseudoDirectory(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	env.snapshot("hourly.0")
	env.snapshot("hourly.1")

	h, attrs, err := env.exp.Lookup(env.actx, env.root(), export.DefaultPseudoDirName)
	require.NoError(t, err)

	assert.Equal(t, handle.KindPseudoDir, h.Kind)
	assert.Zero(t, h.Generation)
	assert.Zero(t, h.Snapshot)
	assert.Equal(t, uint64(export.PseudoInode), attrs.FileID)
	assert.Equal(t, fsal.FileTypeDirectory, attrs.Type)
	assert.Equal(t, uint32(0o555), attrs.Mode)
	assert.Equal(t, uint32(4), attrs.NumLinks)

	got, err := env.exp.GetAttributes(env.actx, h, 0)
	require.NoError(t, err)
	assert.Equal(t, attrs.FileID, got.FileID)

	t.Run("DotAndDotDot", func(t *testing.T) {
		self, _, err := env.exp.Lookup(env.actx, h, ".")
		require.NoError(t, err)
		assert.True(t, self.Equal(h))

		up, _, err := env.exp.Lookup(env.actx, h, "..")
		require.NoError(t, err)
		assert.True(t, up.Equal(env.root()))
	})

	t.Run("UnknownSnapshot", func(t *testing.T) {
		_, _, err := env.exp.Lookup(env.actx, h, "weekly.9")
		requireCode(t, err, fsal.ErrNotFound)
	})

	t.Run("OnlyInLiveRoot", func(t *testing.T) {
		sub, _, err := env.exp.Mkdir(env.actx, env.root(), "sub", 0o755)
		require.NoError(t, err)
		_, _, err = env.exp.Lookup(env.actx, sub, export.DefaultPseudoDirName)
		requireCode(t, err, fsal.ErrNotFound)
	})
}

func TestCustomPseudoDirName(t *testing.T) {
	env := newTestEnv(t, export.Options{PseudoDirName: ".zfs"})
	env.snapshot("daily")

	h, _, err := env.exp.LookupPath(env.actx, "/.zfs/daily")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.Snapshot)

	_, _, err = env.exp.LookupPath(env.actx, "/.snapshots")
	requireCode(t, err, fsal.ErrNotFound)
}

func TestSnapshotLookup(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "a", "v1")
	env.snapshot("hourly.0")
	env.overwrite(f, "version two")

	pseudo, _, err := env.exp.Lookup(env.actx, env.root(), export.DefaultPseudoDirName)
	require.NoError(t, err)

	snapRoot, attrs, err := env.exp.Lookup(env.actx, pseudo, "hourly.0")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), snapRoot.Snapshot)
	assert.Equal(t, handle.KindDirectory, snapRoot.Kind)
	assert.Equal(t, fsal.FileTypeDirectory, attrs.Type)

	old, _, err := env.exp.Lookup(env.actx, snapRoot, "a")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), old.Snapshot)
	assert.Equal(t, "v1", env.readFile(old))
	assert.Equal(t, "version two", env.readFile(f))

	t.Run("DotDotLeavesSnapshot", func(t *testing.T) {
		up, _, err := env.exp.Lookup(env.actx, snapRoot, "..")
		require.NoError(t, err)
		assert.Zero(t, up.Snapshot)
		assert.True(t, up.Equal(env.root()))
	})

	t.Run("ByPath", func(t *testing.T) {
		h, _, err := env.exp.LookupPath(env.actx, "/.snapshots/hourly.0/a")
		require.NoError(t, err)
		assert.True(t, h.Equal(old))

		h, _, err = env.exp.LookupPath(env.actx, "//.snapshots/./hourly.0/../a")
		require.NoError(t, err)
		assert.True(t, h.Equal(f))
	})

	t.Run("UnmountedTagIsStale", func(t *testing.T) {
		bogus := old
		bogus.Snapshot = 42
		_, err := env.exp.GetAttributes(env.actx, bogus, 0)
		requireCode(t, err, fsal.ErrStale)
	})
}

func TestLookupErrors(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "file", "x")

	_, _, err := env.exp.Lookup(env.actx, f, "child")
	requireCode(t, err, fsal.ErrNotADirectory)

	_, _, err = env.exp.LookupPath(env.actx, "relative/path")
	requireCode(t, err, fsal.ErrInvalid)

	_, _, err = env.exp.LookupPath(env.actx, "/missing")
	requireCode(t, err, fsal.ErrNotFound)

	h, _, err := env.exp.LookupPath(env.actx, "/")
	require.NoError(t, err)
	assert.True(t, h.Equal(env.root()))
}

func TestMutationBarrier(t *testing.T) {
	var mounted []*recordingBackend
	env := newWrappedTestEnv(t, export.Options{}, func(b fsal.Backend) fsal.Backend {
		r := &recordingBackend{Backend: b}
		mounted = append(mounted, r)
		return r
	})
	f := env.writeFile(env.root(), "a", "data")
	require.NoError(t, env.exp.SetExtAttrByName(env.actx, f, "k", []byte("v"), true))
	env.snapshot("hourly.0")
	require.Len(t, mounted, 2)

	snapRoot, _, err := env.exp.LookupPath(env.actx, "/.snapshots/hourly.0")
	require.NoError(t, err)
	snapFile, _, err := env.exp.Lookup(env.actx, snapRoot, "a")
	require.NoError(t, err)
	pseudo, _, err := env.exp.LookupPath(env.actx, "/.snapshots")
	require.NoError(t, err)

	attrs := &fsal.Attributes{Mask: fsal.AttrMode, Mode: 0o600}

	tests := []struct {
		name string
		call func() error
	}{
		{"SetAttributes", func() error {
			_, err := env.exp.SetAttributes(env.actx, snapFile, attrs)
			return err
		}},
		{"Create", func() error {
			_, _, err := env.exp.Create(env.actx, snapRoot, "new", 0o644)
			return err
		}},
		{"Mkdir", func() error {
			_, _, err := env.exp.Mkdir(env.actx, snapRoot, "new", 0o755)
			return err
		}},
		{"MkdirInPseudoDir", func() error {
			_, _, err := env.exp.Mkdir(env.actx, pseudo, "new", 0o755)
			return err
		}},
		{"Symlink", func() error {
			_, _, err := env.exp.Symlink(env.actx, snapRoot, "ln", "a")
			return err
		}},
		{"LinkFromSnapshot", func() error {
			return env.exp.Link(env.actx, snapFile, env.root(), "b")
		}},
		{"Unlink", func() error {
			return env.exp.Unlink(env.actx, snapRoot, "a")
		}},
		{"UnlinkPseudoDir", func() error {
			return env.exp.Unlink(env.actx, env.root(), export.DefaultPseudoDirName)
		}},
		{"RenameIntoSnapshot", func() error {
			return env.exp.Rename(env.actx, env.root(), "a", snapRoot, "a2")
		}},
		{"OpenWrite", func() error {
			_, err := env.exp.Open(env.actx, snapFile, fsal.OpenWrite)
			return err
		}},
		{"OpenTruncate", func() error {
			_, err := env.exp.Open(env.actx, snapFile, fsal.OpenRead|fsal.OpenTruncate)
			return err
		}},
		{"SetExtAttr", func() error {
			return env.exp.SetExtAttrByName(env.actx, snapFile, "user.k", []byte("v"), false)
		}},
		{"RemoveExtAttr", func() error {
			return env.exp.RemoveExtAttrByID(env.actx, snapFile, extattr.StaticCount)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range mounted {
				r.reset()
			}
			requireCode(t, tt.call(), fsal.ErrReadOnlyFileSystem)
			for _, r := range mounted {
				assert.Empty(t, r.mutations(), "mutating calls reached %q", r.Name())
			}
		})
	}

	// Nothing above reached the live instance.
	assert.Equal(t, "data", env.readFile(f))
	_, _, err = env.exp.Lookup(env.actx, env.root(), "a2")
	requireCode(t, err, fsal.ErrNotFound)

	t.Run("ReadStillAllowed", func(t *testing.T) {
		assert.Equal(t, "data", env.readFile(snapFile))
	})
}

func TestOpenUnlinkGetattr(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f, _, err := env.exp.Create(env.actx, env.root(), "tmp", 0o644)
	require.NoError(t, err)

	s, err := env.exp.Open(env.actx, f, fsal.OpenRead|fsal.OpenWrite)
	require.NoError(t, err)
	assert.Equal(t, 1, env.exp.OpenSessions())
	assert.NotEmpty(t, s.ID())

	_, err = s.Write(env.actx, 0, []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, env.exp.Unlink(env.actx, env.root(), "tmp"))

	attrs, err := env.exp.GetAttributes(env.actx, f, 0)
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeRegular, attrs.Type)
	assert.Equal(t, uint64(5), attrs.Size)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, env.exp.OpenSessions())

	_, err = env.exp.GetAttributes(env.actx, f, 0)
	require.Error(t, err)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "f", "0123456789")

	t.Run("ReadOnlySessionRejectsWrite", func(t *testing.T) {
		s, err := env.exp.Open(env.actx, f, fsal.OpenRead)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		_, err = s.Write(env.actx, 0, []byte("x"))
		requireCode(t, err, fsal.ErrPermissionDenied)
	})

	t.Run("ClosedSession", func(t *testing.T) {
		s, err := env.exp.Open(env.actx, f, fsal.OpenRead)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		_, _, err = s.Read(env.actx, 0, make([]byte, 4))
		requireCode(t, err, fsal.ErrInvalid)
	})

	t.Run("Append", func(t *testing.T) {
		s, err := env.exp.Open(env.actx, f, fsal.OpenWrite|fsal.OpenAppend)
		require.NoError(t, err)
		_, err = s.Write(env.actx, 0, []byte("ab"))
		require.NoError(t, err)
		assert.Equal(t, uint64(12), s.Stat().Size)
		require.NoError(t, s.Close())

		assert.Equal(t, "0123456789ab", env.readFile(f))
	})

	t.Run("Directory", func(t *testing.T) {
		_, err := env.exp.Open(env.actx, env.root(), fsal.OpenRead)
		requireCode(t, err, fsal.ErrIsADirectory)
	})

	t.Run("Symlink", func(t *testing.T) {
		ln, _, err := env.exp.Symlink(env.actx, env.root(), "ln", "f")
		require.NoError(t, err)
		_, err = env.exp.Open(env.actx, ln, fsal.OpenRead)
		requireCode(t, err, fsal.ErrInvalid)

		target, err := env.exp.Readlink(env.actx, ln)
		require.NoError(t, err)
		assert.Equal(t, "f", target)
	})

	t.Run("Throttled", func(t *testing.T) {
		throttled := newTestEnv(t, export.Options{ReadBytesPerSecond: 1 << 20, WriteBytesPerSecond: 1 << 20})
		h := throttled.writeFile(throttled.root(), "t", "throttled")
		assert.Equal(t, "throttled", throttled.readFile(h))
	})
}

func TestNamespaceOperations(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	root := env.root()

	dir, _, err := env.exp.Mkdir(env.actx, root, "dir", 0o750)
	require.NoError(t, err)
	f := env.writeFile(dir, "f", "content")

	require.NoError(t, env.exp.Link(env.actx, f, root, "hard"))
	attrs, err := env.exp.GetAttributes(env.actx, f, fsal.AttrNumLinks)
	require.NoError(t, err)
	assert.Equal(t, fsal.AttrNumLinks, attrs.Mask)
	assert.Equal(t, uint32(2), attrs.NumLinks)

	err = env.exp.Link(env.actx, dir, root, "dirlink")
	requireCode(t, err, fsal.ErrPermissionDenied)

	require.NoError(t, env.exp.Rename(env.actx, dir, "f", root, "moved"))
	moved, _, err := env.exp.Lookup(env.actx, root, "moved")
	require.NoError(t, err)
	assert.True(t, moved.Equal(f))

	err = env.exp.Unlink(env.actx, root, "dir")
	require.NoError(t, err)

	out, err := env.exp.SetAttributes(env.actx, moved, &fsal.Attributes{Mask: fsal.AttrSize | fsal.AttrMode, Size: 3, Mode: 0o600})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Size)
	assert.Equal(t, uint32(0o600), out.Mode)
	assert.Equal(t, "con", env.readFile(moved))

	_, err = env.exp.SetAttributes(env.actx, moved, &fsal.Attributes{Mask: fsal.AttrFileID})
	requireCode(t, err, fsal.ErrInvalid)
}

func TestReaddir(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	root := env.root()
	for _, name := range []string{"a", "b", "c"} {
		env.writeFile(root, name, name)
	}
	env.snapshot("hourly.0")
	env.snapshot("hourly.1")

	t.Run("LiveRoot", func(t *testing.T) {
		entries, eol, err := env.exp.Readdir(env.actx, root, 0, 0)
		require.NoError(t, err)
		assert.True(t, eol)

		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
			assert.Zero(t, e.Handle.Snapshot)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
	})

	t.Run("Resume", func(t *testing.T) {
		first, eol, err := env.exp.Readdir(env.actx, root, 0, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.False(t, eol)

		rest, eol, err := env.exp.Readdir(env.actx, root, first[1].Cookie, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.True(t, eol)
		assert.NotContains(t, []string{first[0].Name, first[1].Name}, rest[0].Name)
	})

	t.Run("PseudoDir", func(t *testing.T) {
		pseudo, _, err := env.exp.LookupPath(env.actx, "/.snapshots")
		require.NoError(t, err)

		entries, eol, err := env.exp.Readdir(env.actx, pseudo, 0, 0)
		require.NoError(t, err)
		assert.True(t, eol)
		require.Len(t, entries, 2)
		assert.Equal(t, "hourly.0", entries[0].Name)
		assert.Equal(t, uint32(1), entries[0].Handle.Snapshot)
		assert.Equal(t, "hourly.1", entries[1].Name)
		assert.Equal(t, uint32(2), entries[1].Handle.Snapshot)

		rest, eol, err := env.exp.Readdir(env.actx, pseudo, entries[0].Cookie, 0)
		require.NoError(t, err)
		assert.True(t, eol)
		require.Len(t, rest, 1)
		assert.Equal(t, "hourly.1", rest[0].Name)
	})

	t.Run("SnapshotEntriesCarryTag", func(t *testing.T) {
		snap, _, err := env.exp.LookupPath(env.actx, "/.snapshots/hourly.1")
		require.NoError(t, err)

		entries, _, err := env.exp.Readdir(env.actx, snap, 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, uint32(2), e.Handle.Snapshot)
		}
	})

	t.Run("NotADirectory", func(t *testing.T) {
		f, _, err := env.exp.Lookup(env.actx, root, "a")
		require.NoError(t, err)
		_, _, err = env.exp.Readdir(env.actx, f, 0, 0)
		requireCode(t, err, fsal.ErrNotADirectory)
	})
}

func TestExtAttrs(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "f", "x")

	require.NoError(t, env.exp.SetExtAttrByName(env.actx, f, "color", []byte("blue"), true))
	err := env.exp.SetExtAttrByName(env.actx, f, "color", []byte("red"), true)
	requireCode(t, err, fsal.ErrAlreadyExists)

	entries, _, eol, err := env.exp.ListExtAttrs(env.actx, f, 0, 16)
	require.NoError(t, err)
	assert.True(t, eol)
	require.Len(t, entries, int(extattr.StaticCount)+1)
	assert.Equal(t, extattr.NameHandle, entries[0].Name)
	assert.Equal(t, "color", entries[len(entries)-1].Name)

	id, err := env.exp.GetExtAttrIDByName(env.actx, f, "color")
	require.NoError(t, err)
	assert.Equal(t, extattr.StaticCount, id)

	value, err := env.exp.GetExtAttrByID(env.actx, f, id)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(value))

	require.NoError(t, env.exp.SetExtAttrByID(env.actx, f, id, []byte("green")))
	value, err = env.exp.GetExtAttrByName(env.actx, f, "color")
	require.NoError(t, err)
	assert.Equal(t, "green", string(value))

	err = env.exp.SetExtAttrByName(env.actx, f, extattr.NameHandle, []byte("x"), false)
	requireCode(t, err, fsal.ErrPermissionDenied)

	attrs, err := env.exp.ExtAttrAttributes(env.actx, f, id)
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeExtendedAttr, attrs.Type)

	require.NoError(t, env.exp.RemoveExtAttrByName(env.actx, f, "color"))
	_, err = env.exp.GetExtAttrByName(env.actx, f, "color")
	requireCode(t, err, fsal.ErrNotFound)

	t.Run("SnapshotLabel", func(t *testing.T) {
		env.snapshot("hourly.0")
		snapFile, _, err := env.exp.LookupPath(env.actx, "/.snapshots/hourly.0/f")
		require.NoError(t, err)

		label, err := env.exp.GetExtAttrByName(env.actx, snapFile, extattr.NameSnapshot)
		require.NoError(t, err)
		assert.Equal(t, "hourly.0", string(label))
	})

	t.Run("PseudoDirHasOnlyBuiltins", func(t *testing.T) {
		pseudo, _, err := env.exp.LookupPath(env.actx, "/.snapshots")
		require.NoError(t, err)

		entries, _, eol, err := env.exp.ListExtAttrs(env.actx, pseudo, 0, 16)
		require.NoError(t, err)
		assert.True(t, eol)
		assert.Len(t, entries, int(extattr.StaticCount))

		_, err = env.exp.GetExtAttrByName(env.actx, pseudo, "color")
		requireCode(t, err, fsal.ErrNotFound)
	})
}

func TestDigests(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "f", "x")
	env.snapshot("hourly.0")
	snapFile, _, err := env.exp.LookupPath(env.actx, "/.snapshots/hourly.0/f")
	require.NoError(t, err)

	for _, v := range []handle.Version{handle.DigestNFSv2, handle.DigestNFSv3, handle.DigestNFSv4} {
		t.Run(v.String(), func(t *testing.T) {
			for _, h := range []handle.Handle{f, snapFile} {
				d, err := env.exp.DigestHandle(h, v)
				require.NoError(t, err)
				assert.Len(t, d, env.exp.Codec().Size())

				back, err := env.exp.ExpandHandle(d, v)
				require.NoError(t, err)
				assert.True(t, back.Equal(h))
			}
		})
	}

	t.Run("FileID", func(t *testing.T) {
		d, err := env.exp.DigestHandle(f, handle.DigestFileID4)
		require.NoError(t, err)
		assert.Len(t, d, 8)

		_, err = env.exp.ExpandHandle(d, handle.DigestFileID4)
		requireCode(t, err, fsal.ErrInvalid)
	})

	t.Run("Truncated", func(t *testing.T) {
		d, err := env.exp.DigestHandle(f, handle.DigestNFSv3)
		require.NoError(t, err)
		_, err = env.exp.ExpandHandle(d[:len(d)-1], handle.DigestNFSv3)
		requireCode(t, err, fsal.ErrInvalid)
	})

	t.Run("DummyResolvesToRoot", func(t *testing.T) {
		dummy, err := env.exp.Codec().EncodeDummy(env.live.FSID())
		require.NoError(t, err)

		attrs, err := env.exp.GetAttributes(env.actx, dummy, 0)
		require.NoError(t, err)
		assert.Equal(t, fsal.FileTypeDirectory, attrs.Type)

		child, _, err := env.exp.Lookup(env.actx, dummy, "f")
		require.NoError(t, err)
		assert.True(t, child.Equal(f))
	})
}

func TestDummyHandleMutations(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	dummy, err := env.exp.Codec().EncodeDummy(env.live.FSID())
	require.NoError(t, err)

	created, _, err := env.exp.Create(env.actx, dummy, "made", 0o644)
	require.NoError(t, err)
	_, _, err = env.exp.Mkdir(env.actx, dummy, "dir", 0o755)
	require.NoError(t, err)
	_, _, err = env.exp.Symlink(env.actx, dummy, "sym", "made")
	require.NoError(t, err)
	require.NoError(t, env.exp.Link(env.actx, created, dummy, "alias"))
	require.NoError(t, env.exp.Rename(env.actx, dummy, "alias", env.root(), "renamed"))
	require.NoError(t, env.exp.Unlink(env.actx, dummy, "sym"))

	attrs, err := env.exp.SetAttributes(env.actx, dummy, &fsal.Attributes{Mask: fsal.AttrMode, Mode: 0o711})
	require.NoError(t, err)
	assert.Equal(t, fsal.FileTypeDirectory, attrs.Type)
	assert.Equal(t, uint32(0o711), attrs.Mode&fsal.ModePermission)

	for _, name := range []string{"made", "dir", "renamed"} {
		_, _, err := env.exp.Lookup(env.actx, env.root(), name)
		require.NoError(t, err, name)
	}
	_, _, err = env.exp.Lookup(env.actx, env.root(), "sym")
	requireCode(t, err, fsal.ErrNotFound)
	_, _, err = env.exp.Lookup(env.actx, env.root(), "alias")
	requireCode(t, err, fsal.ErrNotFound)
}

func TestIdentityMapping(t *testing.T) {
	env := newTestEnv(t, export.Options{})

	// Let anyone create in the root before squashing.
	_, err := env.exp.SetAttributes(env.actx, env.root(), &fsal.Attributes{Mask: fsal.AttrMode, Mode: 0o777})
	require.NoError(t, err)

	squashed, err := export.New(registry.New(env.live), export.Options{
		Identity: export.IdentityMapping{RootSquash: true},
	})
	require.NoError(t, err)

	root, _, err := squashed.Root(env.actx)
	require.NoError(t, err)
	_, attrs, err := squashed.Create(env.actx, root, "owned", 0o644)
	require.NoError(t, err)
	assert.Equal(t, export.DefaultAnonUID, attrs.Owner)
	assert.Equal(t, export.DefaultAnonGID, attrs.Group)
}

func TestShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, export.Options{})
	f := env.writeFile(env.root(), "f", "x")

	s, err := env.exp.Open(env.actx, f, fsal.OpenRead)
	require.NoError(t, err)

	require.NoError(t, env.exp.Shutdown(context.Background()))
	assert.Zero(t, env.exp.OpenSessions())

	_, _, err = s.Read(env.actx, 0, make([]byte, 1))
	requireCode(t, err, fsal.ErrInvalid)

	_, _, err = env.exp.Root(env.actx)
	requireCode(t, err, fsal.ErrStale)
}

func TestIncompatibleSnapshot(t *testing.T) {
	env := newTestEnv(t, export.Options{})

	_, err := env.exp.AddSnapshot("writable", env.live)
	require.Error(t, err)
}
