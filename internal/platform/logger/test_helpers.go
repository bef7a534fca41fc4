package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// Entry is one log record captured by a Recorder. Attribute values are
// flattened to their string form; grouped keys are joined with dots.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// Recorder is a slog.Handler that keeps every record in memory.
type Recorder struct {
	sink   *recordSink
	attrs  []slog.Attr
	prefix string
}

type recordSink struct {
	mu      sync.Mutex
	entries []Entry
}

var _ slog.Handler = (*Recorder)(nil)

// NewTestLogger returns a debug-level logger and the Recorder behind it.
func NewTestLogger(t *testing.T) (*slog.Logger, *Recorder) {
	t.Helper()
	rec := &Recorder{sink: &recordSink{}}
	return slog.New(rec), rec
}

// Enabled accepts every level.
func (r *Recorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle stores the record together with attributes bound through With.
func (r *Recorder) Handle(_ context.Context, record slog.Record) error {
	entry := Entry{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   make(map[string]string, len(r.attrs)+record.NumAttrs()),
	}
	for _, a := range r.attrs {
		flatten(entry.Attrs, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		flatten(entry.Attrs, r.prefix, a)
		return true
	})

	r.sink.mu.Lock()
	r.sink.entries = append(r.sink.entries, entry)
	r.sink.mu.Unlock()
	return nil
}

// WithAttrs returns a handler sharing the same sink.
func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	bound = append(bound, r.attrs...)
	for _, a := range attrs {
		if r.prefix != "" {
			a.Key = r.prefix + a.Key
		}
		bound = append(bound, a)
	}
	return &Recorder{sink: r.sink, attrs: bound, prefix: r.prefix}
}

// WithGroup returns a handler that prefixes later keys with name.
func (r *Recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	return &Recorder{sink: r.sink, attrs: r.attrs, prefix: r.prefix + name + "."}
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	return append([]Entry(nil), r.sink.entries...)
}

// Find returns the first entry with the given message.
func (r *Recorder) Find(message string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Message == message {
			return e, true
		}
	}
	return Entry{}, false
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = v.String()
}
