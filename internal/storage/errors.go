package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no events exist for a requested id.
var ErrNotFound = errors.New("storage: not found")

// ErrEmptyResult is returned when a metric is requested over zero events.
var ErrEmptyResult = errors.New("storage: no events")

// BatchError reports a batch write that stopped part way.
// The first Stored events of the batch were persisted.
type BatchError struct {
	Stored int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("storage: batch stopped after %d events: %v", e.Stored, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
