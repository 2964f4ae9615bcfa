//go:build linux

package posix

import (
	"errors"
	"io"
	"os"

	"github.com/marmos91/fsal/pkg/fsal"
	"golang.org/x/sys/unix"
)

// Open opens a regular file with the matching os flags.
func (b *Backend) Open(actx *fsal.AuthContext, obj fsal.Object, flags int) (fsal.File, error) {
	path, err := b.pathOf(obj)
	if err != nil {
		return nil, err
	}
	rel := b.rel(path)

	st, err := lstat(path)
	if err != nil {
		return nil, fsal.FromErrno(err, "open", rel)
	}
	switch uint32(st.Mode) & fsal.ModeTypeMask {
	case fsal.ModeRegular:
	case fsal.ModeDirectory:
		return nil, fsal.NewError(fsal.ErrIsADirectory, rel, "cannot open a directory")
	default:
		return nil, fsal.NewError(fsal.ErrInvalid, rel, "cannot open a non-regular file")
	}
	if err := fsal.CheckAccess(actx, ownership(st), fsal.OpenAccess(flags), rel); err != nil {
		return nil, err
	}

	write := flags&(fsal.OpenWrite|fsal.OpenAppend) != 0
	var oflags int
	switch {
	case write && flags&fsal.OpenRead != 0:
		oflags = os.O_RDWR
	case write:
		oflags = os.O_WRONLY
	default:
		oflags = os.O_RDONLY
	}
	if flags&fsal.OpenTruncate != 0 {
		if !write {
			oflags = os.O_RDWR
		}
		oflags |= os.O_TRUNC
	}
	if flags&fsal.OpenAppend != 0 {
		oflags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, oflags|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, fsal.FromErrno(err, "open", rel)
	}
	return &file{f: f, rel: rel, append: flags&fsal.OpenAppend != 0}, nil
}

// file wraps an *os.File as an fsal.File.
type file struct {
	f      *os.File
	rel    string
	append bool
}

func (f *file) ReadAt(actx *fsal.AuthContext, p []byte, off int64) (int, bool, error) {
	n, err := f.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		return n, true, nil
	}
	if err != nil {
		return n, false, fsal.FromErrno(err, "read", f.rel)
	}

	fi, err := f.f.Stat()
	if err != nil {
		return n, false, fsal.FromErrno(err, "read", f.rel)
	}
	return n, off+int64(n) >= fi.Size(), nil
}

// WriteAt writes p at off. Files opened for append always write at the
// end, which os.File.WriteAt refuses, so those use Write.
func (f *file) WriteAt(actx *fsal.AuthContext, p []byte, off int64) (int, error) {
	var n int
	var err error
	if f.append {
		n, err = f.f.Write(p)
	} else {
		n, err = f.f.WriteAt(p, off)
	}
	if err != nil {
		return n, fsal.FromErrno(err, "write", f.rel)
	}
	return n, nil
}

func (f *file) Sync(*fsal.AuthContext) error {
	return fsal.FromErrno(f.f.Sync(), "fsync", f.rel)
}

func (f *file) Close() error {
	return fsal.FromErrno(f.f.Close(), "close", f.rel)
}
