package export

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
)

// Session is an open regular file.
//
// The object's stat is captured at open and kept current by the session's
// own writes, so attributes stay available after the object is unlinked
// by another request.
//
// Thread Safety:
// Safe for concurrent use. Reads and writes are passed to the backend file
// concurrently; the session lock only guards the cached stat and the
// closed flag.
type Session struct {
	e     *Export
	id    uuid.UUID
	h     handle.Handle
	key   string
	flags int
	file  fsal.File

	mu     sync.Mutex
	stat   fsal.NativeStat
	closed bool
}

// Open opens the regular file h for I/O.
//
// flags is a combination of fsal.OpenRead, OpenWrite, OpenTruncate and
// OpenAppend. Any flag other than OpenRead passes the mutation barrier.
//
// Returns:
//   - IsADirectory for directories and the pseudo directory
//   - Invalid for other non-regular objects
//   - ReadOnlyFileSystem for write access to a snapshot object
func (e *Export) Open(actx *fsal.AuthContext, h handle.Handle, flags int) (s *Session, err error) {
	defer e.observe("open", time.Now(), &err)

	actx = e.caller(actx)
	h, err = e.canonical(actx, h)
	if err != nil {
		return nil, err
	}

	switch {
	case h.Kind.IsDirectory() || h.Kind == handle.KindJunction:
		return nil, fsal.NewError(fsal.ErrIsADirectory, "", "%s cannot be opened", h)
	case h.Kind != handle.KindRegular:
		return nil, fsal.NewError(fsal.ErrInvalid, "", "%s is not a regular file", h)
	}
	if flags&^fsal.OpenRead != 0 {
		if err := checkMutable(h); err != nil {
			return nil, err
		}
	}
	if flags == 0 {
		flags = fsal.OpenRead
	}

	m, err := e.mountOf(h)
	if err != nil {
		return nil, err
	}
	f, err := m.Backend.Open(actx, h.BackendObject(), flags)
	if err != nil {
		return nil, err
	}
	st, err := m.Backend.Getattr(actx, h.BackendObject())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	s = &Session{
		e:     e,
		id:    uuid.New(),
		h:     h,
		key:   h.Key(),
		flags: flags,
		file:  f,
		stat:  st,
	}

	e.mu.Lock()
	set, ok := e.sessions[s.key]
	if !ok {
		set = make(map[*Session]struct{})
		e.sessions[s.key] = set
	}
	set[s] = struct{}{}
	e.open++
	open := e.open
	e.mu.Unlock()

	e.metrics.SetOpenSessions(open)
	logger.Debug("export %q: session %s opened on %s (flags %#x)", e.name, s.id, h, flags)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id.String() }

// Handle returns the handle the session was opened on.
func (s *Session) Handle() handle.Handle { return s.h }

// Stat returns the stat captured at open, updated by the session's writes.
func (s *Session) Stat() fsal.NativeStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stat
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fsal.NewError(fsal.ErrInvalid, "", "session %s is closed", s.id)
	}
	return nil
}

// Read reads into buf at off.
//
// Returns:
//   - n: bytes read
//   - eof: true when the end of file was reached
//   - err: Invalid on a closed session or a negative offset
func (s *Session) Read(actx *fsal.AuthContext, off int64, buf []byte) (n int, eof bool, err error) {
	defer s.e.observe("read", time.Now(), &err)

	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	if off < 0 {
		return 0, false, fsal.NewError(fsal.ErrInvalid, "", "negative offset %d", off)
	}
	actx = s.e.caller(actx)
	if err := s.e.readLimit.WaitN(actx.Ctx(), len(buf)); err != nil {
		return 0, false, fsal.NewError(fsal.ErrIO, "", "read throttled: %v", err)
	}

	n, eof, err = s.file.ReadAt(actx, buf, off)
	if n > 0 {
		s.e.metrics.RecordBytes("read", n)
	}
	return n, eof, err
}

// Write writes data at off. Sessions opened with OpenAppend ignore off and
// append.
func (s *Session) Write(actx *fsal.AuthContext, off int64, data []byte) (n int, err error) {
	defer s.e.observe("write", time.Now(), &err)

	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.flags&(fsal.OpenWrite|fsal.OpenAppend) == 0 {
		return 0, fsal.NewError(fsal.ErrPermissionDenied, "", "session %s is read-only", s.id)
	}
	if off < 0 {
		return 0, fsal.NewError(fsal.ErrInvalid, "", "negative offset %d", off)
	}
	actx = s.e.caller(actx)
	if err := s.e.writeLimit.WaitN(actx.Ctx(), len(data)); err != nil {
		return 0, fsal.NewError(fsal.ErrIO, "", "write throttled: %v", err)
	}

	n, err = s.file.WriteAt(actx, data, off)
	if n > 0 {
		s.e.metrics.RecordBytes("write", n)

		s.mu.Lock()
		end := uint64(off) + uint64(n)
		if s.flags&fsal.OpenAppend != 0 {
			end = s.stat.Size + uint64(n)
		}
		s.stat.Size = max(s.stat.Size, end)
		now := time.Now()
		s.stat.Mtime, s.stat.Ctime = now, now
		s.mu.Unlock()
	}
	return n, err
}

// Commit makes the session's writes stable.
func (s *Session) Commit(actx *fsal.AuthContext) (err error) {
	defer s.e.observe("commit", time.Now(), &err)

	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.file.Sync(s.e.caller(actx))
}

// Close releases the session. Closing twice is a no-op.
func (s *Session) Close() (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	defer s.e.observe("close", time.Now(), &err)

	e := s.e
	e.mu.Lock()
	if set, ok := e.sessions[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(e.sessions, s.key)
		}
	}
	e.open--
	open := e.open
	e.mu.Unlock()

	e.metrics.SetOpenSessions(open)
	logger.Debug("export %q: session %s closed", e.name, s.id)
	return s.file.Close()
}

// OpenSessions returns the number of open sessions.
func (e *Export) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// cachedStat returns the stat captured by an open session on h, if the
// object is a regular file.
func (e *Export) cachedStat(h handle.Handle) (fsal.NativeStat, bool) {
	e.mu.Lock()
	var s *Session
	for candidate := range e.sessions[h.Key()] {
		s = candidate
		break
	}
	e.mu.Unlock()

	if s == nil {
		return fsal.NativeStat{}, false
	}
	st := s.Stat()
	if st.FileType() != fsal.FileTypeRegular {
		return fsal.NativeStat{}, false
	}
	return st, true
}
