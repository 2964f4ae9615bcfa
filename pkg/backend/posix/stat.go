//go:build linux

package posix

import (
	"time"

	"github.com/marmos91/fsal/pkg/fsal"
	"golang.org/x/sys/unix"
)

const statxMask = unix.STATX_BASIC_STATS | unix.STATX_BTIME

func lstat(path string) (*unix.Statx_t, error) {
	var st unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW|unix.AT_STATX_SYNC_AS_STAT, statxMask, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func ownership(st *unix.Statx_t) fsal.Ownership {
	return fsal.Ownership{UID: st.Uid, GID: st.Gid, Mode: uint32(st.Mode)}
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// toNative copies a statx result into the adapter's stat structure.
// Filesystems without birth times report the change time instead.
func toNative(st *unix.Statx_t) fsal.NativeStat {
	btime := statxTime(st.Btime)
	if st.Mask&unix.STATX_BTIME == 0 {
		btime = statxTime(st.Ctime)
	}
	return fsal.NativeStat{
		Mode:    uint32(st.Mode),
		Ino:     st.Ino,
		Nlink:   st.Nlink,
		UID:     st.Uid,
		GID:     st.Gid,
		Size:    st.Size,
		Blocks:  st.Blocks,
		Blksize: st.Blksize,
		Rdev:    fsal.Device{Major: st.Rdev_major, Minor: st.Rdev_minor},
		Dev:     unix.Mkdev(st.Dev_major, st.Dev_minor),
		Atime:   statxTime(st.Atime),
		Mtime:   statxTime(st.Mtime),
		Ctime:   statxTime(st.Ctime),
		Btime:   btime,
	}
}

func timespec(t time.Time) unix.Timespec {
	return unix.NsecToTimespec(t.UnixNano())
}
