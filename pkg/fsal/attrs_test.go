package fsal

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGeneric(t *testing.T) {
	now := time.Unix(1700000000, 42)
	st := &NativeStat{
		Mode:    ModeRegular | 0o640,
		Ino:     1234,
		Nlink:   2,
		UID:     1000,
		GID:     100,
		Size:    4097,
		Blocks:  16,
		Blksize: 4096,
		Rdev:    Device{Major: 8, Minor: 1},
		Dev:     0xfd01,
		Atime:   now,
		Mtime:   now.Add(time.Second),
		Ctime:   now.Add(2 * time.Second),
		Btime:   now.Add(-time.Hour),
	}
	fsid := FSID{Type: FSIDTwoUint32, Major: 1, Minor: 2}

	attrs := ToGeneric(st, fsid)

	assert.Equal(t, AttrAll, attrs.Mask)
	assert.Equal(t, FileTypeRegular, attrs.Type)
	assert.Equal(t, uint32(0o640), attrs.Mode)
	assert.Equal(t, uint32(2), attrs.NumLinks)
	assert.Equal(t, uint32(1000), attrs.Owner)
	assert.Equal(t, uint32(100), attrs.Group)
	assert.Equal(t, uint64(4097), attrs.Size)
	assert.Equal(t, uint64(16*512), attrs.SpaceUsed)
	assert.Equal(t, uint64(1234), attrs.FileID)
	// the export's fsid wins over the backing device
	assert.Equal(t, fsid, attrs.FSID)
	assert.Equal(t, Device{Major: 8, Minor: 1}, attrs.RawDev)
	assert.Equal(t, st.Atime, attrs.Atime)
	assert.Equal(t, st.Mtime, attrs.Mtime)
	assert.Equal(t, st.Ctime, attrs.Ctime)
	assert.Equal(t, st.Btime, attrs.Creation)
	assert.Equal(t, st.Ctime, attrs.ChangeTime)
	assert.Equal(t, uint64(st.Ctime.UnixNano()), attrs.Change)
}

func TestFileTypeFromMode(t *testing.T) {
	tests := []struct {
		mode uint32
		want FileType
	}{
		{ModeRegular | 0o644, FileTypeRegular},
		{ModeDirectory | 0o755, FileTypeDirectory},
		{ModeSymlink | 0o777, FileTypeSymlink},
		{ModeChar, FileTypeCharDevice},
		{ModeBlock, FileTypeBlockDevice},
		{ModeFIFO, FileTypeFIFO},
		{ModeSocket, FileTypeSocket},
		{0o644, FileTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FileTypeFromMode(tt.mode))
			if tt.want != FileTypeUnknown {
				assert.Equal(t, tt.mode&ModeTypeMask, ModeFromFileType(tt.want))
			}
		})
	}
}

func TestFromGeneric(t *testing.T) {
	mtime := time.Unix(1600000000, 0)
	attrs := &Attributes{
		Mode:  0o600,
		Owner: 42,
		Group: 43,
		Size:  10,
		Mtime: mtime,
	}

	t.Run("OnlyMaskedFields", func(t *testing.T) {
		p, err := FromGeneric(attrs, AttrMode|AttrSize)
		require.NoError(t, err)
		assert.Equal(t, PatchMode|PatchSize, p.Mask)
		assert.Equal(t, uint32(0o600), p.Mode)
		assert.Equal(t, uint64(10), p.Size)
		assert.Zero(t, p.UID)
		assert.Zero(t, p.GID)
	})

	t.Run("ServerTimeWins", func(t *testing.T) {
		p, err := FromGeneric(attrs, AttrMtime|AttrMtimeServer)
		require.NoError(t, err)
		assert.True(t, p.Has(PatchMtimeNow))
		assert.False(t, p.Has(PatchMtime))
	})

	t.Run("ClientTime", func(t *testing.T) {
		p, err := FromGeneric(attrs, AttrMtime|AttrOwner|AttrGroup)
		require.NoError(t, err)
		assert.True(t, p.Has(PatchMtime))
		assert.Equal(t, mtime, p.Mtime)
		assert.Equal(t, uint32(42), p.UID)
		assert.Equal(t, uint32(43), p.GID)
	})

	t.Run("RejectsReadOnlyAttributes", func(t *testing.T) {
		for _, bit := range []AttrMask{AttrType, AttrFileID, AttrNumLinks, AttrFSID, AttrSpaceUsed, AttrCtime} {
			_, err := FromGeneric(attrs, bit)
			assert.True(t, IsCode(err, ErrInvalid), "mask %#x", bit)
		}
	})

	t.Run("RejectsTypeBitsInMode", func(t *testing.T) {
		_, err := FromGeneric(&Attributes{Mode: ModeRegular | 0o644}, AttrMode)
		assert.True(t, IsCode(err, ErrInvalid))
	})
}

func TestNativePatchApply(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := &NativeStat{Mode: ModeRegular | 0o644, UID: 1, GID: 1, Size: 100}

	p := NativePatch{Mask: PatchMode | PatchSize | PatchAtimeNow, Mode: 0o600, Size: 5}
	p.Apply(st, now)

	assert.Equal(t, uint32(ModeRegular|0o600), st.Mode)
	assert.Equal(t, uint64(5), st.Size)
	assert.Equal(t, now, st.Atime)
	assert.Equal(t, now, st.Ctime)
	assert.Equal(t, uint32(1), st.UID)
}

func TestFromErrno(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{syscall.ENOENT, ErrNotFound},
		{&os.PathError{Op: "open", Path: "/x", Err: syscall.EEXIST}, ErrAlreadyExists},
		{syscall.ENOTEMPTY, ErrNotEmpty},
		{syscall.EACCES, ErrPermissionDenied},
		{syscall.EROFS, ErrReadOnlyFileSystem},
		{syscall.EXDEV, ErrCrossDevice},
		{syscall.ESTALE, ErrStale},
		{syscall.ERANGE, ErrTooSmall},
		{syscall.EIO, ErrIO},
		{errors.New("opaque"), ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.want.Label(), func(t *testing.T) {
			err := FromErrno(tt.err, "op", "path")
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}

	t.Run("TranslatesOnce", func(t *testing.T) {
		orig := NewError(ErrStale, "a", "gone")
		assert.Same(t, orig, FromErrno(orig, "op", "b"))
	})

	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, FromErrno(nil, "op", "p"))
		assert.Equal(t, ErrorCode(0), CodeOf(nil))
	})
}

func TestErrorIs(t *testing.T) {
	err := NewError(ErrReadOnlyFileSystem, "/snap", "snapshot is immutable")
	assert.True(t, errors.Is(err, &Error{Code: ErrReadOnlyFileSystem}))
	assert.False(t, errors.Is(err, &Error{Code: ErrNotFound}))
	assert.Contains(t, err.Error(), "/snap")
}

func TestParseFSIDType(t *testing.T) {
	for ty := FSIDNone; ty <= FSIDDevice; ty++ {
		got, err := ParseFSIDType(ty.String())
		require.NoError(t, err)
		assert.Equal(t, ty, got)
	}

	_, err := ParseFSIDType("bogus")
	assert.True(t, IsCode(err, ErrInvalid))
	assert.False(t, FSIDType(99).Valid())
	assert.Equal(t, -1, FSIDType(99).Size())
}
