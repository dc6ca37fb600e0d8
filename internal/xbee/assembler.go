package xbee

import (
	"bytes"
	"iter"
	"slices"
)

// OutcomeKind classifies a frame sliced off the byte stream.
type OutcomeKind int

const (
	// OutcomeValid is a complete frame whose checksum matched.
	OutcomeValid OutcomeKind = iota

	// OutcomeChecksumFailed is a complete frame whose checksum did not match.
	// It is reported for diagnostics and never decoded.
	OutcomeChecksumFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValid:
		return "valid"
	case OutcomeChecksumFailed:
		return "checksum_failed"
	default:
		return "unknown"
	}
}

// Outcome is one complete frame in arrival order. Raw is owned by the caller.
type Outcome struct {
	Kind OutcomeKind
	Raw  []byte
}

// Valid reports whether the frame passed checksum validation.
func (o Outcome) Valid() bool { return o.Kind == OutcomeValid }

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// MinMaxBuffered is the smallest accepted partial frame cap. Every 802.15.4
// API frame (100 byte RF payload plus addressing, header and checksum) fits
// in it, so a cap at or above it never splits a legitimate frame.
const MinMaxBuffered = 128

// WithMaxBuffered caps the size of a buffered partial frame. When the
// unconsumed tail grows beyond n bytes the assembler drops bytes up to the
// next start delimiter and carries on. Zero (the default) means no cap;
// positive values below MinMaxBuffered are raised to it.
func WithMaxBuffered(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxBuffered = max(n, MinMaxBuffered)
		}
	}
}

// Assembler reassembles API frames from arbitrarily chunked serial reads.
//
// The buffer only ever holds the unconsumed tail of the stream. There is no
// reset: discard the Assembler and create a new one to restart.
//
// Thread Safety:
//   - Not safe for concurrent use. The serial read loop is the only caller.
type Assembler struct {
	buf         []byte
	maxBuffered int
	discarded   uint64
}

// NewAssembler returns an empty Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Feed appends chunk to the buffer and returns the complete frames that can
// now be sliced off its front, in order.
//
// The sequence is lazy: frames are removed from the buffer as they are
// yielded. Stopping the iteration early leaves the remaining frames buffered
// for the next call.
func (a *Assembler) Feed(chunk []byte) iter.Seq[Outcome] {
	a.buf = append(a.buf, chunk...)

	return func(yield func(Outcome) bool) {
		for {
			raw, ok := a.next()
			if !ok {
				if a.resync() {
					continue
				}
				a.compact()
				return
			}

			kind := OutcomeValid
			if !ValidChecksum(raw) {
				kind = OutcomeChecksumFailed
			}
			if !yield(Outcome{Kind: kind, Raw: raw}) {
				a.compact()
				return
			}
		}
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (a *Assembler) Buffered() int { return len(a.buf) }

// Discarded returns the number of bytes dropped by overflow resyncs.
func (a *Assembler) Discarded() uint64 { return a.discarded }

// next slices one complete frame off the front of the buffer.
func (a *Assembler) next() ([]byte, bool) {
	if len(a.buf) < headerSize {
		return nil, false
	}

	n := frameLength(a.buf)
	if len(a.buf) < n {
		return nil, false
	}

	raw := slices.Clone(a.buf[:n])
	a.buf = a.buf[n:]
	return raw, true
}

// resync drops the head of an oversized partial frame.
// It reports whether any bytes were dropped.
func (a *Assembler) resync() bool {
	if a.maxBuffered == 0 || len(a.buf) <= a.maxBuffered {
		return false
	}

	skip := len(a.buf)
	if i := bytes.IndexByte(a.buf[1:], StartDelimiter); i >= 0 {
		skip = i + 1
	}
	a.discarded += uint64(skip)
	a.buf = a.buf[skip:]
	return true
}

// compact replaces the buffer with a copy of its tail so consumed bytes are
// released instead of pinning the old backing array.
func (a *Assembler) compact() {
	if len(a.buf) == 0 {
		a.buf = nil
		return
	}
	a.buf = slices.Clone(a.buf)
}
