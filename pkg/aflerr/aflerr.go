// Package aflerr defines the error kinds shared by the codec, archive, tree
// and search packages. Callers match them with errors.Is; the packages wrap
// them with context describing where the failure happened.
package aflerr

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports a bad magic, a truncated buffer or an otherwise
	// malformed binary structure.
	ErrFormat = errors.New("malformed data")
	// ErrKeyNotFound reports a missing key or an out-of-range index in a
	// tree container.
	ErrKeyNotFound = errors.New("key not found")
	// ErrTypeMismatch reports a tree value whose stored type differs from
	// the requested one.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrNotFound reports a missing archive entry.
	ErrNotFound = errors.New("file not found")
	// ErrDirNotFound reports a missing directory below an asset root.
	ErrDirNotFound = errors.New("directory not found")
	// ErrIO reports a read or write failure on the filesystem.
	ErrIO = errors.New("i/o error")
	// ErrInvalidArgument reports bad caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCycleDetected reports a link graph that revisits an object or
	// nests deeper than the configured limit.
	ErrCycleDetected = errors.New("link cycle detected")
)

// ioError keeps both the os-level cause and ErrIO reachable through
// errors.Is / errors.As.
type ioError struct {
	op   string
	path string
	err  error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.op, e.path, e.err)
}

func (e *ioError) Unwrap() []error { return []error{ErrIO, e.err} }

// IO wraps a filesystem error. It returns nil when err is nil.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, path: path, err: err}
}

// Formatf returns an ErrFormat with a formatted description.
func Formatf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
