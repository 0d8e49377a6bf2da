// Package log builds the slog loggers used by docpkg and carries them on
// contexts.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jlrickert/cli-toolkit/mylog"
)

// LoggerConfig is a minimal, convenient set of options.
type LoggerConfig struct {
	Version string

	// If Out is nil, stderr is used.
	Out io.Writer
	// File, when set, receives the log instead of Out.
	File string

	Level slog.Level
	JSON  bool // true => JSON output, false => text
}

// ParseLevel maps debug, info, warn and error to a level. Unlike
// mylog.ParseLevel an unknown name is an error rather than info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "warning", "error":
		return mylog.ParseLevel(s), nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
}

// NewLogger creates a configured *slog.Logger and a shutdown func that
// closes the log file, if any.
func NewLogger(cfg LoggerConfig) (*slog.Logger, func() error, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	shutdown := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, shutdown, fmt.Errorf("open log file: %w", err)
		}
		out = f
		shutdown = f.Close
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	hn, _ := os.Hostname()
	logger := slog.New(handler).With(
		slog.String("version", cfg.Version),
		slog.String("host", hn),
		slog.Int("pid", os.Getpid()),
	)
	return logger, shutdown, nil
}

// nopHandler is a tiny no-op slog.Handler.
type nopHandler struct{}

func (n *nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (n *nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (n *nopHandler) WithAttrs(attrs []slog.Attr) slog.Handler  { return n }
func (n *nopHandler) WithGroup(name string) slog.Handler        { return n }

// NewNopLogger returns a logger that discards all log events.
func NewNopLogger() *slog.Logger {
	return slog.New(&nopHandler{})
}

var _ slog.Handler = (*nopHandler)(nil)

///////////////////////////////////////////////////////////////////////////////
// Context helpers
///////////////////////////////////////////////////////////////////////////////

type ctxKeyType struct{}

var ctxKey ctxKeyType

// ContextWithLogger stores lg on ctx.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey, lg)
}

// FromContext returns logger from ctx or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(ctxKey); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

///////////////////////////////////////////////////////////////////////////////
// Test handler (simple, thread-safe)
///////////////////////////////////////////////////////////////////////////////

type LoggedEntry struct {
	Time  time.Time
	Level slog.Level
	Msg   string
	Attrs map[string]any
}

// testingT is a tiny subset of *testing.T used for optional logging.
type testingT interface {
	Logf(format string, args ...any)
}

// TestHandler captures structured entries for assertions. Attributes added
// with With are recorded on every entry.
type TestHandler struct {
	state *testState
	attrs []slog.Attr
}

type testState struct {
	mu      sync.Mutex
	entries []LoggedEntry
	t       testingT
}

func NewTestHandler(t testingT) *TestHandler {
	return &TestHandler{state: &testState{t: t}}
}

func (h *TestHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *TestHandler) Handle(ctx context.Context, r slog.Record) error {
	e := LoggedEntry{
		Time:  r.Time,
		Level: r.Level,
		Msg:   r.Message,
		Attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.Any()
		return true
	})

	h.state.mu.Lock()
	h.state.entries = append(h.state.entries, e)
	h.state.mu.Unlock()

	if h.state.t != nil {
		h.state.t.Logf("LOG %s %v %v", e.Msg, e.Level, e.Attrs)
	}
	return nil
}

func (h *TestHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TestHandler{state: h.state, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *TestHandler) WithGroup(_ string) slog.Handler { return h }

// Entries returns a copy of the captured entries.
func (h *TestHandler) Entries() []LoggedEntry {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return append([]LoggedEntry(nil), h.state.entries...)
}

// NewTestLogger returns a logger that writes to a TestHandler (and the handler).
func NewTestLogger(t testingT) (*slog.Logger, *TestHandler) {
	th := NewTestHandler(t)
	logger := slog.New(th).With(slog.String("test", "true"))
	return logger, th
}

var _ slog.Handler = (*TestHandler)(nil)

///////////////////////////////////////////////////////////////////////////////
// Small helpers for tests
///////////////////////////////////////////////////////////////////////////////

// FindEntries copies entries that match pred.
func FindEntries(th *TestHandler, pred func(LoggedEntry) bool) []LoggedEntry {
	out := make([]LoggedEntry, 0)
	for _, e := range th.Entries() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// RequireEntry fails the test if a matching entry isn't found within timeout.
func RequireEntry(t *testing.T, th *TestHandler, pred func(LoggedEntry) bool, timeout time.Duration) LoggedEntry {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		entries := th.Entries()
		for _, e := range entries {
			if pred(e) {
				return e
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("required log entry not found in %s; captured %d entries: %#v", timeout, len(entries), entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
