package errors

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrConfigCannotBeNil     = errors.New("config cannot be nil")
	ErrCapabilityUnavailable = errors.New("bluetooth capability unavailable")
	ErrPermissionDenied      = errors.New("bluetooth permission denied")
	ErrBondOperationFailed   = errors.New("bond operation failed")
	ErrEnableRequestDeclined = errors.New("bluetooth enable request declined")
	ErrPreconditionViolation = errors.New("bond state precondition violated")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrDeviceAddressRequired = errors.New("device address required")
	ErrSessionClosed         = errors.New("session closed")
	ErrConfirmationRequired  = errors.New("unbond requires confirmation")
	ErrSubsystemNotStarted   = errors.New("bluetooth subsystem not started")
	ErrAdapterNotFound       = errors.New("bluetooth adapter not found")
	ErrUnsupportedBackend    = errors.New("unsupported bluetooth backend")
	ErrMACAddressInvalid     = errors.New("MAC address must be six colon separated hex octets")
	ErrMQTTConnectionFailed  = errors.New("mqtt connection failed")
	ErrMQTTNotConnected      = errors.New("mqtt not connected")
)

// ErrDeviceNotFoundWithAddress returns an error for device not found with address.
func ErrDeviceNotFoundWithAddress(address string) error {
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
}

// ErrBondOperationFailedWithCause wraps a backend failure into ErrBondOperationFailed.
func ErrBondOperationFailedWithCause(op, address string, cause error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBondOperationFailed, op, address, cause)
}

func ErrPreconditionViolationWithState(op, state string) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrPreconditionViolation, op, state)
}

func ErrUnsupportedBackendWithName(name string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
}

func ErrMACAddressInvalidWithValue(value string) error {
	return fmt.Errorf("%w: %q", ErrMACAddressInvalid, value)
}
