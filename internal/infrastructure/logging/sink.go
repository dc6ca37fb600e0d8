package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// Sink receives formatted log lines.
//
// Emit is called synchronously on the logging goroutine and must not block.
// A sink that does I/O should queue the line and return.
type Sink interface {
	Emit(text string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(text string)

// Emit implements Sink.
func (f SinkFunc) Emit(text string) { f(text) }

// sinkHandler renders records as single text lines and hands them to sinks.
// Handlers derived through WithAttrs/WithGroup share the render buffer.
type sinkHandler struct {
	level slog.Level
	sinks []Sink

	mu   *sync.Mutex
	buf  *bytes.Buffer
	text slog.Handler
}

func newSinkHandler(level slog.Level, sinks []Sink) *sinkHandler {
	buf := &bytes.Buffer{}
	return &sinkHandler{
		level: level,
		sinks: sinks,
		mu:    &sync.Mutex{},
		buf:   buf,
		text: slog.NewTextHandler(buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Receivers timestamp lines themselves.
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		}),
	}
}

func (h *sinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	h.buf.Reset()
	err := h.text.Handle(ctx, r)
	line := strings.TrimSuffix(h.buf.String(), "\n")
	h.mu.Unlock()

	if err != nil {
		return err
	}
	for _, s := range h.sinks {
		s.Emit(line)
	}
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.text = h.text.WithAttrs(attrs)
	return &clone
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.text = h.text.WithGroup(name)
	return &clone
}

// fanoutHandler passes each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
