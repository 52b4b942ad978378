package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrQueueFull = errors.New("fetch queue is full")
)

// FetchError is a network, DNS, timeout or transport failure while
// retrieving a feed document.
type FetchError struct {
	URL string
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TypeConversionError is raised when a time field does not hold a
// structured time value.
type TypeConversionError struct {
	Field string
	Value any
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s value %v (%T) to time", e.Field, e.Value, e.Value)
}

// ReconciliationError wraps a store failure while applying a fetch cycle.
type ReconciliationError struct {
	SourceID string
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile source %s: %v", e.SourceID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// ConfigurationError signals a programming error such as a missing
// required parameter. It is never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// IsTransient reports whether err is worth retrying by the fetch worker.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return true
	}
	var te *TypeConversionError
	return errors.As(err, &te)
}
