// Package audit provides the append-only lifecycle and delivery event log.
//
// Sinks are write-only and best-effort: Record never returns an error and
// never panics, so callers on the delivery path cannot be disturbed by a
// failing log backend.
package audit

import (
	"log/slog"
	"sync"
)

// Level classifies an audit entry.
type Level string

const (
	LevelInfo    Level = "Info"
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

// Sink is the destination for audit entries.
type Sink interface {
	// Record writes one entry. err may be nil. source names the component
	// that produced the entry.
	Record(level Level, message string, err error, source string)
}

// SlogSink writes audit entries to the process logger. It is the fallback
// when no audit table is configured, and the sink of choice for local runs.
type SlogSink struct{}

// NewSlogSink creates a SlogSink.
func NewSlogSink() *SlogSink {
	return &SlogSink{}
}

// Record writes the entry via slog at the matching level.
func (s *SlogSink) Record(level Level, message string, err error, source string) {
	attrs := []any{"source", source}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	switch level {
	case LevelError:
		slog.Error(message, attrs...)
	case LevelWarning:
		slog.Warn(message, attrs...)
	default:
		slog.Info(message, attrs...)
	}
}

// Entry is a recorded audit event, used by the in-memory sink.
type Entry struct {
	Level   Level
	Message string
	Err     error
	Source  string
}

// Memory is an in-memory Sink for tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends the entry.
func (m *Memory) Record(level Level, message string, err error, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Message: message, Err: err, Source: source})
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
