package webui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogStream fans router log lines out to web clients. It keeps a bounded
// ring of recent lines so a client connecting mid-run sees context, and it
// never blocks the logging path: a slow subscriber drops lines.
type LogStream struct {
	mu   sync.Mutex
	ring []string
	max  int
	subs map[chan string]struct{}
}

// NewLogStream creates a stream retaining up to max recent lines.
func NewLogStream(max int) *LogStream {
	if max <= 0 {
		max = 200
	}
	return &LogStream{max: max, subs: make(map[chan string]struct{})}
}

// Handler returns a slog.Handler that formats records into the stream and
// forwards them to inner. Pass the result to slog.New so the router keeps a
// single logger while the panel watches.
func (l *LogStream) Handler(inner slog.Handler) slog.Handler {
	return &streamHandler{stream: l, inner: inner}
}

// Recent returns the retained lines, oldest first.
func (l *LogStream) Recent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ring))
	copy(out, l.ring)
	return out
}

// Subscribe registers a live line channel. The returned cancel must be
// called when the client goes away.
func (l *LogStream) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	cancel := func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}
	return ch, cancel
}

func (l *LogStream) publish(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append(l.ring, line)
	if len(l.ring) > l.max {
		l.ring = l.ring[len(l.ring)-l.max:]
	}
	for ch := range l.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// streamHandler tees slog records into a LogStream. WithAttrs context is
// carried so scoped loggers render their attributes in the panel too.
type streamHandler struct {
	stream *LogStream
	inner  slog.Handler
	attrs  []slog.Attr
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, rec slog.Record) error {
	h.stream.publish(formatRecord(rec, h.attrs))
	return h.inner.Handle(ctx, rec)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	return &streamHandler{stream: h.stream, inner: h.inner.WithAttrs(attrs), attrs: merged}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{stream: h.stream, inner: h.inner.WithGroup(name), attrs: h.attrs}
}

func formatRecord(rec slog.Record, scoped []slog.Attr) string {
	var b strings.Builder
	b.WriteString(rec.Time.Format(time.TimeOnly))
	b.WriteString(" ")
	b.WriteString(rec.Level.String())
	b.WriteString(" ")
	b.WriteString(rec.Message)
	for _, a := range scoped {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	return b.String()
}
