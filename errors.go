package bitsfs

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a POSIX errno code with a customizable
// message and a stable identity so callers can compare against the Err*
// sentinels with errors.Is.
type DriverError struct {
	Errno   syscall.Errno
	Kind    string
	message string
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Errno.Error())
}

// Unwrap lets errors.Is/errors.As see through to the underlying errno.
func (e *DriverError) Unwrap() error {
	return e.Errno
}

// Is reports whether target is the same sentinel kind. This lets every
// *DriverError minted from the same sentinel compare equal regardless of the
// attached message.
func (e *DriverError) Is(target error) bool {
	other, ok := target.(*DriverError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// WithMessage returns a copy of the sentinel error with a custom message
// appended.
func (e *DriverError) WithMessage(format string, args ...interface{}) *DriverError {
	return &DriverError{
		Errno:   e.Errno,
		Kind:    e.Kind,
		message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches an underlying error's text to the sentinel's message.
func (e *DriverError) Wrap(err error) *DriverError {
	return &DriverError{
		Errno:   e.Errno,
		Kind:    e.Kind,
		message: err.Error(),
	}
}

func newError(kind string, errno syscall.Errno) *DriverError {
	return &DriverError{Errno: errno, Kind: kind}
}

// Sentinel errors, one per condition BitsFS's operations can raise.
var (
	// ErrIO indicates the underlying block device's read or write failed.
	ErrIO = newError("Io", syscall.EIO)
	// ErrCorrupted indicates a magic mismatch, an out-of-range field, or an
	// inconsistent directory entry.
	ErrCorrupted = newError("Corrupted", syscall.EUCLEAN)
	// ErrInvalidInode indicates inode number 0, or a number below the first
	// usable inode, was passed where a live inode was required.
	ErrInvalidInode = newError("InvalidInode", syscall.EINVAL)
	// ErrStaleInode indicates a loaded inode has Links == 0 or Dtime != 0.
	ErrStaleInode = newError("StaleInode", syscall.ESTALE)
	// ErrNoSpace indicates a bitmap (block or inode) has no more free bits,
	// or no run of the requested length, to allocate.
	ErrNoSpace = newError("NoSpace", syscall.ENOSPC)
	// ErrFileTooLarge indicates a logical block index exceeds the 16-slot map.
	ErrFileTooLarge = newError("FileTooLarge", syscall.EFBIG)
	// ErrNotFound indicates a directory lookup found no matching entry.
	ErrNotFound = newError("NotFound", syscall.ENOENT)
	// ErrExists indicates an add-link saw a name collision.
	ErrExists = newError("Exists", syscall.EEXIST)
	// ErrNotEmpty indicates an rmdir, or a rename onto a directory, target
	// contains entries other than "." and "..".
	ErrNotEmpty = newError("NotEmpty", syscall.ENOTEMPTY)
	// ErrNameTooLong indicates a name longer than 56 bytes.
	ErrNameTooLong = newError("NameTooLong", syscall.ENAMETOOLONG)
	// ErrInvalidArgument indicates a rename flag other than NOREPLACE, or
	// another malformed argument.
	ErrInvalidArgument = newError("InvalidArgument", syscall.EINVAL)
)
