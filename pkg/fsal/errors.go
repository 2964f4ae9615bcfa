package fsal

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is the single error type returned across the adapter layer.
//
// Backend-native failures (errno values, library errors) are translated
// into an Error exactly once, at the boundary where they are first
// observed. Callers further up inspect the Code and must not re-wrap the
// error into a different code.
//
// Protocol handlers map Code onto their own status values (NFS3ERR_*,
// NFS4ERR_*, ...).
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the object name or path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare *Error (code only) carrying the same
// code, so errors.Is(err, &fsal.Error{Code: fsal.ErrStale}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Path == "" && t.Err == nil && t.Code == e.Code
}

// ErrorCode represents the category of an adapter error.
//
// The set is backend-agnostic. Every backend translates its native error
// space into these codes.
type ErrorCode int

const (
	// ErrNotFound indicates the object or name does not exist
	ErrNotFound ErrorCode = iota + 1

	// ErrNotADirectory indicates a directory was required
	ErrNotADirectory

	// ErrIsADirectory indicates a non-directory was required
	ErrIsADirectory

	// ErrAlreadyExists indicates the name is already taken
	ErrAlreadyExists

	// ErrNotEmpty indicates a directory still has entries
	ErrNotEmpty

	// ErrPermissionDenied indicates the caller may not perform the operation
	ErrPermissionDenied

	// ErrReadOnlyFileSystem indicates a mutation was attempted on a
	// snapshot (or otherwise immutable) instance
	ErrReadOnlyFileSystem

	// ErrCrossDevice indicates a junction was reached and not followed
	ErrCrossDevice

	// ErrInvalid indicates a malformed handle, digest or argument
	ErrInvalid

	// ErrTooSmall indicates a digest budget or buffer is insufficient
	ErrTooSmall

	// ErrNoMemory indicates an allocation failure in the backend
	ErrNoMemory

	// ErrNoSpace indicates the backend is out of space or inodes
	ErrNoSpace

	// ErrNameTooLong indicates a name component exceeds the backend limit
	ErrNameTooLong

	// ErrStale indicates the handle no longer resolves to an object
	ErrStale

	// ErrUnsupported indicates the backend does not implement the operation
	ErrUnsupported

	// ErrIO indicates an opaque backend failure
	ErrIO
)

var errorCodeNames = map[ErrorCode]string{
	ErrNotFound:           "not found",
	ErrNotADirectory:      "not a directory",
	ErrIsADirectory:       "is a directory",
	ErrAlreadyExists:      "already exists",
	ErrNotEmpty:           "directory not empty",
	ErrPermissionDenied:   "permission denied",
	ErrReadOnlyFileSystem: "read-only file system",
	ErrCrossDevice:        "cross-device junction",
	ErrInvalid:            "invalid argument",
	ErrTooSmall:           "too small",
	ErrNoMemory:           "out of memory",
	ErrNoSpace:            "no space left",
	ErrNameTooLong:        "name too long",
	ErrStale:              "stale handle",
	ErrUnsupported:        "operation not supported",
	ErrIO:                 "I/O error",
}

// String returns a short description of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// Label returns a stable, metric-friendly identifier for the code.
func (c ErrorCode) Label() string {
	switch c {
	case ErrNotFound:
		return "NOENT"
	case ErrNotADirectory:
		return "NOTDIR"
	case ErrIsADirectory:
		return "ISDIR"
	case ErrAlreadyExists:
		return "EXIST"
	case ErrNotEmpty:
		return "NOTEMPTY"
	case ErrPermissionDenied:
		return "PERM"
	case ErrReadOnlyFileSystem:
		return "ROFS"
	case ErrCrossDevice:
		return "XDEV"
	case ErrInvalid:
		return "INVAL"
	case ErrTooSmall:
		return "TOOSMALL"
	case ErrNoMemory:
		return "NOMEM"
	case ErrNoSpace:
		return "NOSPC"
	case ErrNameTooLong:
		return "NAMETOOLONG"
	case ErrStale:
		return "STALE"
	case ErrUnsupported:
		return "NOTSUPP"
	case ErrIO:
		return "IO"
	default:
		return "UNKNOWN"
	}
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, path string, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

// CodeOf returns the ErrorCode carried by err.
//
// Errors that did not come through the adapter boundary (context errors,
// plain wrapped errors) are reported as ErrIO. A nil error returns 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrIO
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// FromErrno translates a native errno into an Error.
//
// Parameters:
//   - err: the error returned by the system call or library
//   - op: the operation name, used in the message
//   - path: the object path or name involved
//
// Returns nil if err is nil. Errors that are already *Error are returned
// unchanged so translation happens only once.
func FromErrno(err error, op, path string) error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return &Error{Code: ErrIO, Message: op, Path: path, Err: err}
	}

	return &Error{Code: errnoCode(errno), Message: op, Path: path, Err: err}
}

func errnoCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODATA:
		return ErrNotFound
	case syscall.ENOTDIR:
		return ErrNotADirectory
	case syscall.EISDIR:
		return ErrIsADirectory
	case syscall.EEXIST:
		return ErrAlreadyExists
	case syscall.ENOTEMPTY:
		return ErrNotEmpty
	case syscall.EPERM, syscall.EACCES:
		return ErrPermissionDenied
	case syscall.EROFS:
		return ErrReadOnlyFileSystem
	case syscall.EXDEV:
		return ErrCrossDevice
	case syscall.EINVAL, syscall.EBADF, syscall.ELOOP:
		return ErrInvalid
	case syscall.ERANGE, syscall.E2BIG:
		return ErrTooSmall
	case syscall.ENOMEM:
		return ErrNoMemory
	case syscall.ENOSPC, syscall.EDQUOT:
		return ErrNoSpace
	case syscall.ENAMETOOLONG:
		return ErrNameTooLong
	case syscall.ESTALE:
		return ErrStale
	case syscall.ENOTSUP, syscall.ENOSYS:
		return ErrUnsupported
	default:
		return ErrIO
	}
}
