package store

import (
	"fmt"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/storage"
)

// DuplicateTensorNameError is returned by the writer before any byte is
// written when two tensors share a name.
type DuplicateTensorNameError struct {
	Name string
}

func (e *DuplicateTensorNameError) Error() string {
	return fmt.Sprintf("duplicate tensor name %q", e.Name)
}

// TensorNotFoundError is returned by Get for names absent from the
// directory. It matches storage.ErrNotFound.
type TensorNotFoundError struct {
	Name string
}

func (e *TensorNotFoundError) Error() string {
	return fmt.Sprintf("tensor %q not found", e.Name)
}

func (e *TensorNotFoundError) Is(target error) bool { return target == storage.ErrNotFound }

// DTypeMismatchError reports a cast performed on access. It is never
// returned as a failure; readers pass it to the cast hook.
type DTypeMismatchError struct {
	Name      string
	Stored    dtype.DType
	Requested dtype.DType
}

func (e *DTypeMismatchError) Error() string {
	return fmt.Sprintf("tensor %q: stored as %s, cast to %s", e.Name, e.Stored, e.Requested)
}
