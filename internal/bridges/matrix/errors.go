package matrix

import (
	"errors"
	"fmt"
)

// Domain errors for the matrix bridge package.
var (
	// ErrNotConnected is returned when an operation needs a transport that
	// is not connected.
	ErrNotConnected = errors.New("matrix: not connected")

	// ErrConnectionFailed is returned when a transport is unreachable, times
	// out or fails the TLS handshake.
	ErrConnectionFailed = errors.New("matrix: connection failed")

	// ErrAuthFailed is returned when the device rejects the login.
	ErrAuthFailed = errors.New("matrix: authentication failed")

	// ErrCommandRejected is returned when the device answered but signalled
	// failure (result != 1, or an E0x token on Telnet).
	ErrCommandRejected = errors.New("matrix: command rejected by device")

	// ErrInvalidResponse is returned when a reply body cannot be decoded.
	ErrInvalidResponse = errors.New("matrix: invalid response")

	// ErrInvalidPort is returned for port numbers outside 1..8.
	ErrInvalidPort = errors.New("matrix: port out of range")

	// ErrInvalidPreset is returned for preset numbers outside 1..8.
	ErrInvalidPreset = errors.New("matrix: preset out of range")

	// ErrInvalidValue is returned when a setting value is not accepted.
	ErrInvalidValue = errors.New("matrix: invalid value")

	// ErrUnknownCECCommand is returned when a CEC command name is not in the
	// command table.
	ErrUnknownCECCommand = errors.New("matrix: unknown CEC command")
)

// DeviceError carries the error token returned by the Telnet firmware.
type DeviceError struct {
	Code     string
	Command  string
	Response string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("matrix: device error %s for %q", e.Code, e.Command)
}

// Unwrap makes errors.Is(err, ErrCommandRejected) hold for device errors.
func (e *DeviceError) Unwrap() error {
	return ErrCommandRejected
}
