// Package errors provides typed errors for the refindex training pipeline.
//
// The package follows Go 1.13+ error conventions: typed errors support
// errors.As, sentinel errors support errors.Is, and everything wraps cleanly
// through fmt.Errorf("%w"). Construction is backed by cockroachdb/errors so
// that %+v formatting yields stack traces in logs.
//
// Error taxonomy:
//
//   - NotFittedError: an estimator was used before Fit
//   - DimensionError: matrix dimensions do not match the fitted shape
//   - ValueError: an invalid value or option was supplied
//   - ModelError: an operation on a model failed, wrapping a cause
//
// Sentinels:
//
//   - ErrEmptyData: empty input matrices
//   - ErrNotFitted: root cause carried by NotFittedError
//   - ErrInterrupted: a run was cancelled by the user via the cancellation
//     flag; callers distinguish this from genuine failures with errors.Is
//   - ErrInsufficientSamples: dataset smaller than the supported minimum
package errors

import (
	"fmt"

	crdberrors "github.com/cockroachdb/errors"
)

// Sentinel errors for errors.Is comparisons.
var (
	// ErrEmptyData indicates an input matrix with zero rows or columns.
	ErrEmptyData = crdberrors.New("empty data")

	// ErrNotFitted indicates use of an estimator before training.
	ErrNotFitted = crdberrors.New("model is not fitted")

	// ErrInterrupted indicates a user-requested cancellation. It is a clean
	// termination path, not a failure.
	ErrInterrupted = crdberrors.New("interrupted by user")

	// ErrInsufficientSamples indicates a dataset below the minimum size.
	ErrInsufficientSamples = crdberrors.New("insufficient samples")

	// ErrNotImplemented indicates an operation without an implementation.
	ErrNotImplemented = crdberrors.New("not implemented")
)

// New creates a new error with a stack trace.
func New(msg string) error {
	return crdberrors.New(msg)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return crdberrors.Newf(format, args...)
}

// Wrap annotates err with a message, preserving the chain.
func Wrap(err error, msg string) error {
	return crdberrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message, preserving the chain.
func Wrapf(err error, format string, args ...interface{}) error {
	return crdberrors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return crdberrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return crdberrors.As(err, target)
}

// NotFittedError is returned when a method requiring a fitted model is
// called on an unfitted one.
type NotFittedError struct {
	ModelName string
	Method    string
}

// NewNotFittedError creates a NotFittedError for the given model and method.
func NewNotFittedError(modelName, method string) *NotFittedError {
	return &NotFittedError{ModelName: modelName, Method: method}
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("refindex: %s.%s: %v; call Fit first", e.ModelName, e.Method, ErrNotFitted)
}

func (e *NotFittedError) Unwrap() error { return ErrNotFitted }

// DimensionError is returned when input dimensions do not match what an
// estimator was fitted with. Axis is 0 for rows, 1 for columns.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int
}

// NewDimensionError creates a DimensionError for the given operation.
func NewDimensionError(op string, expected, got, axis int) *DimensionError {
	return &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
}

func (e *DimensionError) Error() string {
	axis := "rows"
	if e.Axis == 1 {
		axis = "columns"
	}
	return fmt.Sprintf("refindex: %s: dimension mismatch on %s: expected %d, got %d",
		e.Op, axis, e.Expected, e.Got)
}

// ValueError is returned for invalid values or options.
type ValueError struct {
	Op      string
	Message string
}

// NewValueError creates a ValueError for the given operation.
func NewValueError(op, message string) *ValueError {
	return &ValueError{Op: op, Message: message}
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("refindex: %s: %s", e.Op, e.Message)
}

// ModelError wraps an underlying cause with the failing operation and a
// short description.
type ModelError struct {
	Op      string
	Message string
	Err     error
}

// NewModelError creates a ModelError wrapping err.
func NewModelError(op, message string, err error) *ModelError {
	return &ModelError{Op: op, Message: message, Err: err}
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("refindex: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("refindex: %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Recover converts a panic inside numeric code into an error, assigned to
// *errp. Intended as `defer errors.Recover(&err, "Component.Method")`.
func Recover(errp *error, op string) {
	if r := recover(); r != nil {
		err := crdberrors.Newf("panic in %s: %v", op, r)
		if *errp == nil {
			*errp = err
		} else {
			*errp = crdberrors.CombineErrors(*errp, err)
		}
	}
}
