package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by tracking calls made after Close.
	ErrClosed = errors.New("tracker: closed")

	// ErrNotInitialized is returned by tracking calls made before Initialize.
	ErrNotInitialized = errors.New("tracker: not initialized")
)

// StorageWriteError reports a flush that could not persist its batch.
// The unpersisted events are back at the front of the queue.
type StorageWriteError struct {
	Count int
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("tracker: failed to store %d events: %v", e.Count, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// InitializationError reports a component that failed its connectivity test.
// A tracker that returned one stays unusable.
type InitializationError struct {
	Component string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("tracker: failed to initialize %s: %v", e.Component, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
