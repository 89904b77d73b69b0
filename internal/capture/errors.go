package capture

import "errors"

var (
	// ErrInvalidConfig is returned by NewSession for out-of-range
	// configuration values.
	ErrInvalidConfig = errors.New("invalid capture configuration")

	// ErrInvalidArgument is returned for malformed per-call parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotOpen is returned when reading from a session that has not
	// been opened (or has been closed).
	ErrNotOpen = errors.New("recorder not opened")

	// ErrDeviceOpen is returned when acquiring the recording resource
	// fails, even for the default device.
	ErrDeviceOpen = errors.New("device open failed")

	// ErrRecord is returned when a record call fails and the one
	// reconnection attempt fails too.
	ErrRecord = errors.New("record failed")
)
