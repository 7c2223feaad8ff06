// Package testutil provides shared helpers for engine and transport
// tests: log capture and canned entitlement fixtures.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// LogRecord is one captured log record.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// BufferedSlogHandler captures records so tests can assert on them.
type BufferedSlogHandler struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

// NewBufferedSlogHandler creates a capturing handler. Records are also
// echoed to the test log.
func NewBufferedSlogHandler(t *testing.T) *BufferedSlogHandler {
	return &BufferedSlogHandler{t: t}
}

// NewTestLogger returns a logger writing into a fresh buffered handler.
func NewTestLogger(t *testing.T) (*slog.Logger, *BufferedSlogHandler) {
	h := NewBufferedSlogHandler(t)
	return slog.New(h), h
}

// Handle implements slog.Handler.
func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	h.records = append(h.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// Enabled implements slog.Handler; tests capture every level.
func (h *BufferedSlogHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

// WithAttrs implements slog.Handler.
func (h *BufferedSlogHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup implements slog.Handler.
func (h *BufferedSlogHandler) WithGroup(_ string) slog.Handler { return h }

// Records returns a copy of the captured records.
func (h *BufferedSlogHandler) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogRecord, len(h.records))
	copy(out, h.records)
	return out
}

// HasMessage reports whether any captured record carries the message.
func (h *BufferedSlogHandler) HasMessage(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == msg {
			return true
		}
	}
	return false
}
