package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
)

type teeHandler []slog.Handler

// Tee returns a handler that forwards every record to all of hs.
func Tee(hs ...slog.Handler) slog.Handler {
	return teeHandler(hs)
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Transcript is a slog.Handler that keeps the messages of info-and-above
// records, one per line, up to limit bytes. Later output is discarded.
type Transcript struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// NewTranscript returns a transcript holding at most limit bytes.
func NewTranscript(limit int) *Transcript {
	return &Transcript{limit: limit}
}

// Enabled implements slog.Handler.
func (t *Transcript) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

// Handle implements slog.Handler.
func (t *Transcript) Handle(_ context.Context, r slog.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := r.Message + "\n"
	remaining := t.limit - t.buf.Len()
	if remaining <= 0 {
		t.truncated = true
		return nil
	}
	if len(line) > remaining {
		t.buf.WriteString(line[:remaining])
		t.truncated = true
		return nil
	}
	t.buf.WriteString(line)
	return nil
}

// WithAttrs implements slog.Handler. Attributes are not recorded.
func (t *Transcript) WithAttrs([]slog.Attr) slog.Handler { return t }

// WithGroup implements slog.Handler.
func (t *Transcript) WithGroup(string) slog.Handler { return t }

// String returns the captured text.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Truncated reports whether output was dropped because of the limit.
func (t *Transcript) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}
