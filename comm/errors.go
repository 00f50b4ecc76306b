package comm

import (
	"github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable is the kind of error produced when a link or the
	// controller gateway cannot be reached, at startup or mid-run
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrConfiguration is the kind of error produced when a device rejects or
	// cannot apply a requested configuration
	ErrConfiguration = errors.New("configuration error")

	// ErrLink is the kind of error produced when a response from a register
	// link is malformed, missing, or reports a device-side error
	ErrLink = errors.New("link error")
)

// Error tags a hardware failure with its kind.  errors.Is matches both the
// kind and the underlying cause.
type Error struct {
	// Kind is one of the Err* sentinels in this package
	Kind error

	// Op describes what was being attempted, e.g. "read register 35"
	Op string

	// Err is the underlying cause, may be nil
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DeviceUnavailable wraps err as ErrDeviceUnavailable
func DeviceUnavailable(op string, err error) error {
	return &Error{Kind: ErrDeviceUnavailable, Op: op, Err: err}
}

// Configuration wraps err as ErrConfiguration
func Configuration(op string, err error) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: err}
}

// Link wraps err as ErrLink
func Link(op string, err error) error {
	return &Error{Kind: ErrLink, Op: op, Err: err}
}

// Fatal reports whether err belongs to one of the hardware failure kinds
func Fatal(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrLink)
}
