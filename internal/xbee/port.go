package xbee

import "io"

// Port is the serial byte source the Device reads from.
//
// Read may return (0, nil) when no data arrived within the port's read
// timeout. After Close, Read must return an error wrapping ErrPortClosed,
// io.EOF or os.ErrClosed.
type Port interface {
	io.Reader
	io.Closer
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
