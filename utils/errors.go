package utils

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrParam is returned for an invalid size, channel index or missing argument. It is always
	// detected before any bus or backend call.
	ErrParam = errors.New("invalid parameter")

	// ErrUnavailable is returned when a unit, controller or backend is not attached or not active.
	ErrUnavailable = errors.New("unavailable")

	// ErrProtocol is returned when the bus acknowledges a command with an unexpected opcode.
	ErrProtocol = errors.New("protocol failure")

	// ErrTimeout is returned when a bounded poll runs out of iterations.
	ErrTimeout = errors.New("timeout")

	// ErrFail is returned when the hardware itself reports a failed operation (e.g. a NAK).
	ErrFail = errors.New("operation failed")
)

// NewParamError returns an ErrParam describing the bad argument.
func NewParamError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrParam, format, args...)
}

// NewUnavailableError returns an ErrUnavailable for the given logical unit.
func NewUnavailableError(unit int, what string) error {
	return errors.Wrapf(ErrUnavailable, "unit %d: %s", unit, what)
}

// NewProtocolError returns an ErrProtocol for a response whose opcode did not match the expected
// acknowledge.
func NewProtocolError(expected, actual fmt.Stringer) error {
	return errors.Wrapf(ErrProtocol, "expected %v but got %v", expected, actual)
}

// NewTimeoutError returns an ErrTimeout after polls iterations of what.
func NewTimeoutError(what string, polls uint32) error {
	return errors.Wrapf(ErrTimeout, "%s after %d polls", what, polls)
}

// NewFailError returns an ErrFail with the hardware supplied detail.
func NewFailError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFail, format, args...)
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError[ExpectedT any](actual interface{}) error {
	return errors.Errorf("expected %s but got %T", typeName[ExpectedT](), actual)
}

// NewUnimplementedInterfaceError is used when there is a failed interface check.
func NewUnimplementedInterfaceError[ExpectedT any](actual interface{}) error {
	return errors.Errorf("expected implementation of %s but got %T", typeName[ExpectedT](), actual)
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}
