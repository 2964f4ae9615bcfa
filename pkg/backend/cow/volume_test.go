package cow

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/fsal/pkg/blockstore/memory"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv/badgerkv"
	"github.com/marmos91/fsal/pkg/kv/boltkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVolume(t *testing.T, recordSize uint32) *Volume {
	t.Helper()
	ctx := context.Background()

	store, err := badgerkv.Open(ctx, badgerkv.Config{InMemory: true})
	require.NoError(t, err)

	vol, err := Open(ctx, store, memory.New(), Options{Name: "tank", RecordSize: recordSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vol.Close() })
	return vol
}

func mountLive(t *testing.T, vol *Volume) (*Dataset, fsal.Object) {
	t.Helper()
	ds, err := vol.Mount(context.Background(), "")
	require.NoError(t, err)
	root, _, err := ds.Root(rootAuth())
	require.NoError(t, err)
	return ds, root
}

func rootAuth() *fsal.AuthContext {
	return fsal.RootAuth(context.Background())
}

func writeFile(t *testing.T, ds *Dataset, dir fsal.Object, name string, data []byte) fsal.Object {
	t.Helper()
	actx := rootAuth()
	obj, _, err := ds.Create(actx, dir, name, 0o644)
	require.NoError(t, err)

	f, err := ds.Open(actx, obj, fsal.OpenWrite)
	require.NoError(t, err)
	n, err := f.WriteAt(actx, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
	return obj
}

func readAll(t *testing.T, ds *Dataset, obj fsal.Object) []byte {
	t.Helper()
	actx := rootAuth()
	f, err := ds.Open(actx, obj, fsal.OpenRead)
	require.NoError(t, err)
	defer f.Close()

	var out []byte
	buf := make([]byte, 7)
	for off := int64(0); ; {
		n, eof, err := f.ReadAt(actx, buf, off)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
		off += int64(n)
		if eof {
			return out
		}
		require.NotZero(t, n)
	}
}

func TestVolumeFormat(t *testing.T) {
	vol := newTestVolume(t, 0)

	assert.Equal(t, "tank", vol.Name())
	assert.Equal(t, uint32(DefaultRecordSize), vol.RecordSize())
	assert.Equal(t, fsal.FSIDOneUint64, vol.FSID().Type)
	assert.Equal(t, fsidFromGUID(vol.GUID()), vol.FSID())

	ds, root := mountLive(t, vol)
	assert.Equal(t, "tank", ds.Name())
	assert.False(t, ds.ReadOnly())
	assert.Equal(t, objectIDSize, ds.ObjectSize())
	assert.Equal(t, objectID(RootInode), root.ID)
	assert.Equal(t, fsal.FileTypeDirectory, root.Type)

	st, err := ds.Getattr(rootAuth(), root)
	require.NoError(t, err)
	assert.Equal(t, RootInode, st.Ino)
	assert.Equal(t, uint32(2), st.Nlink)
	assert.Equal(t, vol.FSID().Major, st.Dev)
}

func TestVolumeReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")
	blocks := memory.New()

	open := func() *Volume {
		store, err := boltkv.Open(ctx, boltkv.Config{Path: path})
		require.NoError(t, err)
		vol, err := Open(ctx, store, blocks, Options{})
		require.NoError(t, err)
		return vol
	}

	vol := open()
	guid := vol.GUID()
	ds, root := mountLive(t, vol)
	writeFile(t, ds, root, "keep", []byte("persisted"))
	txg := vol.TXG()
	// Closing the volume closes the block store too; keep the blocks.
	require.NoError(t, vol.store.Close())

	vol = open()
	defer vol.store.Close()
	assert.Equal(t, guid, vol.GUID())
	assert.Equal(t, "live", vol.Name())
	assert.Equal(t, txg, vol.TXG())

	ds, root = mountLive(t, vol)
	obj, _, err := ds.Lookup(rootAuth(), root, "keep")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), readAll(t, ds, obj))
}

func TestOpenRequiresStores(t *testing.T) {
	_, err := Open(context.Background(), nil, memory.New(), Options{})
	assert.Error(t, err)
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t, 16)
	live, root := mountLive(t, vol)
	actx := rootAuth()

	original := bytes.Repeat([]byte("0123456789"), 5)
	obj := writeFile(t, live, root, "data", original)
	_, _, err := live.Mkdir(actx, root, "sub", 0o755)
	require.NoError(t, err)

	info, err := vol.Snapshot(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", info.Name)
	assert.NotZero(t, info.ID)

	// Mutate live after the snapshot.
	f, err := live.Open(actx, obj, fsal.OpenWrite)
	require.NoError(t, err)
	_, err = f.WriteAt(actx, []byte("XXXX"), 20)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, live.Unlink(actx, root, "sub"))
	writeFile(t, live, root, "after", []byte("new"))

	snap, err := vol.Mount(ctx, "daily")
	require.NoError(t, err)
	assert.True(t, snap.ReadOnly())
	assert.Equal(t, "daily", snap.Name())
	assert.Equal(t, vol.FSID(), snap.FSID())

	sroot, _, err := snap.Root(actx)
	require.NoError(t, err)

	sobj, _, err := snap.Lookup(actx, sroot, "data")
	require.NoError(t, err)
	assert.Equal(t, obj.ID, sobj.ID, "objects keep their identity in snapshots")
	assert.Equal(t, original, readAll(t, snap, sobj))

	_, _, err = snap.Lookup(actx, sroot, "sub")
	assert.NoError(t, err)
	_, _, err = snap.Lookup(actx, sroot, "after")
	assert.True(t, fsal.IsCode(err, fsal.ErrNotFound))

	liveData := readAll(t, live, obj)
	assert.Equal(t, []byte("XXXX"), liveData[20:24])

	t.Run("SnapshotIsReadOnly", func(t *testing.T) {
		_, _, err := snap.Create(actx, sroot, "nope", 0o644)
		assert.True(t, fsal.IsCode(err, fsal.ErrReadOnlyFileSystem))
		_, err = snap.Open(actx, sobj, fsal.OpenWrite)
		assert.True(t, fsal.IsCode(err, fsal.ErrReadOnlyFileSystem))
		err = snap.SetXattr(actx, sobj, "user.k", []byte("v"), 0)
		assert.True(t, fsal.IsCode(err, fsal.ErrReadOnlyFileSystem))
		err = snap.Unlink(actx, sroot, "data")
		assert.True(t, fsal.IsCode(err, fsal.ErrReadOnlyFileSystem))
	})

	t.Run("Catalog", func(t *testing.T) {
		_, err := vol.Snapshot(ctx, "daily")
		assert.True(t, fsal.IsCode(err, fsal.ErrAlreadyExists))

		_, err = vol.Snapshot(ctx, "weekly")
		require.NoError(t, err)

		list, err := vol.Snapshots(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "daily", list[0].Name)
		assert.Equal(t, "weekly", list[1].Name)
		assert.Less(t, list[0].TXG, list[1].TXG)
	})

	t.Run("Destroy", func(t *testing.T) {
		require.NoError(t, vol.DestroySnapshot(ctx, "weekly"))
		_, err := vol.Mount(ctx, "weekly")
		assert.True(t, fsal.IsCode(err, fsal.ErrNotFound))
		assert.True(t, fsal.IsCode(vol.DestroySnapshot(ctx, "weekly"), fsal.ErrNotFound))
	})
}

func TestSnapshotNames(t *testing.T) {
	vol := newTestVolume(t, 0)
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err := vol.Snapshot(ctx, name)
		assert.True(t, fsal.IsCode(err, fsal.ErrInvalid), "name %q", name)
	}
	_, err := vol.Snapshot(ctx, string(bytes.Repeat([]byte("n"), maxNameLen+1)))
	assert.True(t, fsal.IsCode(err, fsal.ErrNameTooLong))

	_, err = vol.Mount(ctx, "missing")
	assert.True(t, fsal.IsCode(err, fsal.ErrNotFound))
}

func TestClosedVolume(t *testing.T) {
	vol := newTestVolume(t, 0)
	ds, root := mountLive(t, vol)
	require.NoError(t, vol.Close())
	require.NoError(t, vol.Close())

	_, err := ds.Getattr(rootAuth(), root)
	assert.True(t, fsal.IsCode(err, fsal.ErrStale))
	_, err = vol.Mount(context.Background(), "")
	assert.True(t, fsal.IsCode(err, fsal.ErrStale))
}
