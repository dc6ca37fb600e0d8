//go:build linux

package xbee

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// readTimeoutDeciseconds bounds a single read so the read loop can notice
// shutdown (VTIME is expressed in tenths of a second).
const readTimeoutDeciseconds = 1

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// SerialPort is a raw 8N1 UART without flow control.
//
// Thread Safety:
//   - Read and Close may be called from different goroutines. Close waits
//     for an in-flight Read, which returns within the VTIME timeout.
type SerialPort struct {
	path string
	fd   int

	mu     sync.RWMutex
	closed bool
}

// Ensure SerialPort implements Port.
var _ Port = (*SerialPort)(nil)

// OpenPort opens a serial device and configures it for raw binary reads.
//
// Parameters:
//   - path: Device node (e.g., "/dev/ttyUSB0")
//   - baud: Line speed (e.g., 9600)
//
// Returns:
//   - *SerialPort: Open port ready for Read
//   - error: ErrUnsupportedBaud or ErrOpenFailed
func OpenPort(path string, baud int) (*SerialPort, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	if err := configureRaw(fd, speed); err != nil {
		unix.Close(fd) //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	return &SerialPort{path: path, fd: fd}, nil
}

// configureRaw puts the line into raw mode: 8 data bits, no parity, one
// stop bit, no echo, no software or hardware flow control.
func configureRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = readTimeoutDeciseconds

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
}

// Read returns the bytes currently available, or (0, nil) when the read
// timeout expires with nothing received.
func (p *SerialPort) Read(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	n, err := unix.Read(p.fd, b)
	if err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", p.path, err)
	}
	return n, nil
}

// Close releases the device node. Closing twice is not an error.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("close %s: %w", p.path, err)
	}
	return nil
}

// Path returns the device node the port was opened on.
func (p *SerialPort) Path() string { return p.path }
