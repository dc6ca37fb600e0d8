package xbee

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Default read loop settings.
const (
	// defaultReadBufferSize is the size of a single serial read.
	defaultReadBufferSize = 256

	// readRetryDelay is the pause after a failed read before trying again.
	readRetryDelay = 500 * time.Millisecond
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// DeviceOptions configures a Device.
type DeviceOptions struct {
	// Logger receives read errors and overflow notices. Optional.
	Logger Logger

	// ReadBufferSize is the size of a single read. Default: 256.
	ReadBufferSize int

	// MaxBuffered caps a buffered partial frame. Zero means no cap.
	MaxBuffered int
}

// DeviceStats holds read loop counters.
type DeviceStats struct {
	BytesRead      uint64
	FramesValid    uint64
	FramesDropped  uint64 // Checksum failures
	FramesIgnored  uint64 // Valid frames with no decoder
	BytesDiscarded uint64 // Dropped by overflow resync
	ReadErrors     uint64
}

// Device is the coordinator radio attached to a serial port.
//
// It reads the port on a dedicated goroutine, feeds the Assembler and
// reports results through callbacks. Callbacks run on the read goroutine,
// one at a time and in arrival order; they should hand work off rather
// than block.
type Device struct {
	port      Port
	assembler *Assembler
	bufSize   int
	logger    Logger

	onFrame    func(Frame)
	onDropped  func(raw []byte)
	onBytes    func(raw []byte)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	bytesRead     atomic.Uint64
	framesValid   atomic.Uint64
	framesDropped atomic.Uint64
	framesIgnored atomic.Uint64
	readErrors    atomic.Uint64

	// bytesDiscarded mirrors the assembler counter, which only the read
	// goroutine may touch.
	bytesDiscarded atomic.Uint64
}

// NewDevice wraps an open port. Call Start to begin reading.
func NewDevice(port Port, opts DeviceOptions) *Device {
	size := opts.ReadBufferSize
	if size <= 0 {
		size = defaultReadBufferSize
	}

	return &Device{
		port:      port,
		assembler: NewAssembler(WithMaxBuffered(opts.MaxBuffered)),
		bufSize:   size,
		logger:    opts.Logger,
		done:      newCloseOnce(),
	}
}

// SetOnFrame sets the callback for decoded frames.
func (d *Device) SetOnFrame(callback func(Frame)) {
	d.callbackMu.Lock()
	d.onFrame = callback
	d.callbackMu.Unlock()
}

// SetOnDropped sets the callback for frames that failed checksum validation.
func (d *Device) SetOnDropped(callback func(raw []byte)) {
	d.callbackMu.Lock()
	d.onDropped = callback
	d.callbackMu.Unlock()
}

// SetOnBytes sets the callback for every raw chunk read from the port.
func (d *Device) SetOnBytes(callback func(raw []byte)) {
	d.callbackMu.Lock()
	d.onBytes = callback
	d.callbackMu.Unlock()
}

// Start launches the read loop.
func (d *Device) Start() {
	d.wg.Add(1)
	go d.readLoop()
}

// Close stops the read loop and closes the port.
func (d *Device) Close() error {
	d.done.Close()
	err := d.port.Close()
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("closing serial port: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the read loop counters.
func (d *Device) Stats() DeviceStats {
	return DeviceStats{
		BytesRead:      d.bytesRead.Load(),
		FramesValid:    d.framesValid.Load(),
		FramesDropped:  d.framesDropped.Load(),
		FramesIgnored:  d.framesIgnored.Load(),
		BytesDiscarded: d.bytesDiscarded.Load(),
		ReadErrors:     d.readErrors.Load(),
	}
}

func (d *Device) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, d.bufSize)
	for {
		select {
		case <-d.done.Done():
			return
		default:
		}

		n, err := d.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.process(chunk)
		}
		if err != nil {
			if d.isClosed() || isClosedErr(err) {
				return
			}
			d.readErrors.Add(1)
			d.logError("serial read failed", err)

			select {
			case <-d.done.Done():
				return
			case <-time.After(readRetryDelay):
			}
		}
	}
}

// process runs one chunk through the assembler and dispatches outcomes.
func (d *Device) process(chunk []byte) {
	d.bytesRead.Add(uint64(len(chunk)))

	d.callbackMu.RLock()
	onBytes, onFrame, onDropped := d.onBytes, d.onFrame, d.onDropped
	d.callbackMu.RUnlock()

	before := d.assembler.Discarded()

	if onBytes != nil {
		onBytes(chunk)
	}

	for outcome := range d.assembler.Feed(chunk) {
		if !outcome.Valid() {
			d.framesDropped.Add(1)
			if onDropped != nil {
				onDropped(outcome.Raw)
			}
			continue
		}

		d.framesValid.Add(1)
		frame, ok := Decode(outcome.Raw)
		if !ok {
			d.framesIgnored.Add(1)
			continue
		}
		if onFrame != nil {
			onFrame(frame)
		}
	}

	if after := d.assembler.Discarded(); after > before {
		d.bytesDiscarded.Add(after - before)
		d.logWarn("serial buffer overflow, resynchronised",
			"discarded_bytes", after-before,
			"buffered", d.assembler.Buffered(),
		)
	}
}

func (d *Device) isClosed() bool {
	select {
	case <-d.done.Done():
		return true
	default:
		return false
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, ErrPortClosed) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}

func (d *Device) logError(msg string, err error, keysAndValues ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

func (d *Device) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
