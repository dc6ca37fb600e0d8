package xbee

import "errors"

// Domain errors for the xbee package.
var (
	// ErrPortClosed is returned when reading from or writing to a closed port.
	ErrPortClosed = errors.New("xbee: port closed")

	// ErrUnsupportedBaud is returned when the requested baud rate has no
	// termios equivalent.
	ErrUnsupportedBaud = errors.New("xbee: unsupported baud rate")

	// ErrOpenFailed is returned when the serial device cannot be opened or
	// configured.
	ErrOpenFailed = errors.New("xbee: open serial port failed")
)
