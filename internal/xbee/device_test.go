package xbee

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// fakePort feeds queued chunks to Read and blocks until Close.
type fakePort struct {
	chunks chan []byte
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		chunks: make(chan []byte, 16),
		errs:   make(chan error, 4),
		done:   make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrPortClosed
	case err := <-p.errs:
		return 0, err
	case chunk := <-p.chunks:
		return copy(b, chunk), nil
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type recorder struct {
	mu      sync.Mutex
	frames  []Frame
	dropped [][]byte
	chunks  int
	got     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 64)}
}

func (r *recorder) onFrame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) onDropped(raw []byte) {
	r.mu.Lock()
	r.dropped = append(r.dropped, raw)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) onBytes([]byte) {
	r.mu.Lock()
	r.chunks++
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for callback")
		}
	}
}

func startDevice(t *testing.T, port *fakePort) (*Device, *recorder) {
	t.Helper()
	rec := newRecorder()
	d := NewDevice(port, DeviceOptions{})
	d.SetOnFrame(rec.onFrame)
	d.SetOnDropped(rec.onDropped)
	d.SetOnBytes(rec.onBytes)
	d.Start()
	t.Cleanup(func() { _ = d.Close() })
	return d, rec
}

func TestDevice_DispatchesFramesInOrder(t *testing.T) {
	port := newFakePort()
	d, rec := startDevice(t, port)

	corrupt := slices.Clone(sampleFrameWithDigital)
	corrupt[len(corrupt)-1]++

	port.chunks <- sampleFrameNoDigital[:6]
	port.chunks <- slices.Concat(sampleFrameNoDigital[6:], corrupt)
	port.chunks <- sampleFrameWithDigital
	rec.wait(t, 3)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(rec.frames))
	}
	if len(rec.dropped) != 1 {
		t.Fatalf("dropped = %d, want 1", len(rec.dropped))
	}
	if got := rec.frames[0].(*IOSampleFrame).AnalogSamples[0]; got != 512 {
		t.Errorf("first sample = %d, want 512", got)
	}
	if got := rec.frames[1].(*IOSampleFrame).AnalogSamples[0]; got != 511 {
		t.Errorf("second sample = %d, want 511", got)
	}
	if rec.chunks != 3 {
		t.Errorf("onBytes calls = %d, want 3", rec.chunks)
	}

	stats := d.Stats()
	if stats.FramesValid != 2 || stats.FramesDropped != 1 {
		t.Errorf("Stats() = %+v, want 2 valid 1 dropped", stats)
	}
	wantBytes := uint64(len(sampleFrameNoDigital) + len(corrupt) + len(sampleFrameWithDigital))
	if stats.BytesRead != wantBytes {
		t.Errorf("BytesRead = %d, want %d", stats.BytesRead, wantBytes)
	}
}

func TestDevice_IgnoresUnknownFrames(t *testing.T) {
	port := newFakePort()
	d, rec := startDevice(t, port)

	port.chunks <- Encode([]byte{0x8A, 0x00})
	port.chunks <- sampleFrameNoDigital
	rec.wait(t, 1)

	if got := d.Stats().FramesIgnored; got != 1 {
		t.Errorf("FramesIgnored = %d, want 1", got)
	}
}

func TestDevice_ReadErrorIsRetried(t *testing.T) {
	port := newFakePort()
	d, rec := startDevice(t, port)

	port.errs <- errors.New("EIO")
	port.chunks <- sampleFrameNoDigital
	rec.wait(t, 1)

	if got := d.Stats().ReadErrors; got != 1 {
		t.Errorf("ReadErrors = %d, want 1", got)
	}
}

func TestDevice_CloseStopsReadLoop(t *testing.T) {
	port := newFakePort()
	d := NewDevice(port, DeviceOptions{})
	d.Start()

	done := make(chan error, 1)
	go func() { done <- d.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}

	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
