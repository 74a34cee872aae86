package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested collection, record or marker does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrLocked indicates that another holder owns the migration lock.
	ErrLocked = errors.New("store: migration lock held by another process")
	// ErrNestedUnitOfWork indicates Begin was called on a store that is already inside a unit of work.
	ErrNestedUnitOfWork = errors.New("store: unit of work already open")
)

// StoreError wraps a persistence failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return "store: " + e.Op
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable reports whether rerunning the failed operation may succeed.
func (e *StoreError) Retryable() bool {
	return !errors.Is(e.Err, ErrNotFound) && !errors.Is(e.Err, ErrNestedUnitOfWork)
}

func newStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
