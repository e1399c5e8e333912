package resourcebuilder

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrInvalidArgument indicates malformed caller input such as an odd-length
	// property list or a missing required argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates the targeted resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a creation collides with an incompatible existing resource
	ErrConflict = errors.New("resource conflict")

	// ErrIO indicates a stream could not be read while building a file
	ErrIO = errors.New("i/o failure")

	// ErrPersistence indicates the underlying store rejected a commit
	ErrPersistence = errors.New("persistence failure")

	// ErrIllegalState indicates a collaborator broke an invariant, e.g. the tree has no root
	ErrIllegalState = errors.New("illegal state")
)

// ResourceError represents an error related to an operation on a resource path
type ResourceError struct {
	Path string
	Op   string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource operation %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

func newResourceError(op, path string, err error) error {
	return &ResourceError{Path: path, Op: op, Err: err}
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
