package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
)

var (
	// ErrNotFound matches errors for missing artifacts.
	ErrNotFound = errors.New("not found")
	// ErrPermission matches errors for denied access.
	ErrPermission = errors.New("permission denied")
)

// IOError is returned by every backend operation. Transient reports whether
// retrying the same call may succeed (timeouts, throttling, server faults).
type IOError struct {
	Op        string
	Path      string
	Transient bool
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsNotFound reports whether err denotes a missing artifact.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPermission reports whether err denotes denied access.
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }

// IsTransient reports whether err came from a backend call worth retrying.
func IsTransient(err error) bool {
	var e *IOError
	return errors.As(err, &e) && e.Transient
}

func notFound(op, path string, cause error) error {
	return &IOError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrNotFound, cause)}
}

func denied(op, path string, cause error) error {
	return &IOError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrPermission, cause)}
}

// classify wraps an error from the local filesystem or the network stack.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return notFound(op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return denied(op, path, err)
	case errors.Is(err, context.Canceled):
		return &IOError{Op: op, Path: path, Err: err}
	}
	return &IOError{Op: op, Path: path, Transient: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
