// Package datarepoerrors contains the generic errors returned by the namespace, the load ledger and the ingest
// workflows. Callers look for these types with errors.As.
//
// If multiple errors occur in some function (e.g., several invalid files in one bulk request), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package datarepoerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "file" or "load"
	Value   string // Resource name, e.g., "/a/b/c.txt"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "targetPath"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrConflict is returned when a conditional write loses against a concurrent or earlier writer.
type ErrConflict struct {
	Type  string
	Value string
}

func (err *ErrConflict) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("conflicting write for %q of type %q", err.Value, err.Type)
	}
	return fmt.Sprintf("conflicting write for %q", err.Value)
}

// ErrPathAlreadyExists is returned when a target path is already owned by a different load.
type ErrPathAlreadyExists struct {
	Path string
}

func (err *ErrPathAlreadyExists) Error() string {
	return fmt.Sprintf("Path already exists: %s", err.Path)
}

// ErrDependencyExists is returned when deleting a file that another collection still references.
type ErrDependencyExists struct {
	ConsumerCollectionId string
	FileId               string
}

func (err *ErrDependencyExists) Error() string {
	return fmt.Sprintf("file %s is used by collection %s", err.FileId, err.ConsumerCollectionId)
}

// ErrLoadLocked is returned when a load tag is held by another flight.
type ErrLoadLocked struct {
	LoadTag  string
	FlightId string
}

func (err *ErrLoadLocked) Error() string {
	return fmt.Sprintf("load %s is locked by flight %s", err.LoadTag, err.FlightId)
}

// ErrCorruptState signals metadata that contradicts itself. It is never retried.
type ErrCorruptState struct {
	Message string
}

func (err *ErrCorruptState) Error() string {
	return fmt.Sprintf("corrupt state: %s", err.Message)
}

// ErrRetryable marks an error as transient.
type ErrRetryable struct {
	Err error
}

func (err *ErrRetryable) Error() string {
	return fmt.Sprintf("retryable: %v", err.Err)
}

func (err *ErrRetryable) Unwrap() error {
	return err.Err
}

func (err *ErrRetryable) Cause() error {
	return err.Err
}

// Retryable wraps err as transient. Nil, corrupt state and already retryable errors are returned unchanged.
func Retryable(err error) error {
	if err == nil || IsRetryable(err) || IsCorrupt(err) {
		return err
	}
	return &ErrRetryable{Err: err}
}

func IsRetryable(err error) bool {
	var e *ErrRetryable
	return errors.As(err, &e)
}

func IsCorrupt(err error) bool {
	var e *ErrCorruptState
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ErrConflict
	return errors.As(err, &e)
}
