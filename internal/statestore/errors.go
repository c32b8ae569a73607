package statestore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTradeRecord is wrapped by a WriteError when a trade record fails validation
	ErrInvalidTradeRecord = errors.New("invalid trade record")
	// ErrInvalidStrategyID is wrapped when a strategy id is empty or contains '/'
	ErrInvalidStrategyID = errors.New("invalid strategy id")
	// ErrClosed is returned by operations on a closed store, and is the InitError cause for a
	// store closed before it was initialized
	ErrClosed = errors.New("state store closed")
)

// InitError is returned when the store could not be initialized.
// The store keeps it and returns the same value from every later call.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("state store initialization failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// WriteError is returned when a write to a collection fails
type WriteError struct {
	Op         string
	Collection string
	DocID      string
	Cause      error
}

func (e *WriteError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Cause)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.DocID, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// ReadError is returned when a read or query fails
type ReadError struct {
	Op         string
	Collection string
	DocID      string
	Cause      error
}

func (e *ReadError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Cause)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.DocID, e.Cause)
}

func (e *ReadError) Unwrap() error {
	return e.Cause
}
