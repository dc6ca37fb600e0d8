//go:build !linux

package xbee

import (
	"fmt"
	"runtime"
)

// SerialPort is only implemented on Linux.
type SerialPort struct{}

// OpenPort always fails on platforms without termios support.
func OpenPort(path string, _ int) (*SerialPort, error) {
	return nil, fmt.Errorf("%w: %s: serial ports not supported on %s", ErrOpenFailed, path, runtime.GOOS)
}

// Read implements Port.
func (*SerialPort) Read([]byte) (int, error) { return 0, ErrPortClosed }

// Close implements Port.
func (*SerialPort) Close() error { return nil }

// Path implements Port.
func (*SerialPort) Path() string { return "" }
