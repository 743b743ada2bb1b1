// Package logsink captures the log records of one conversion run as text
// while forwarding them to the caller's handler.
package logsink

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Sink is a slog.Handler. Records at or above the transcript level are kept
// in memory regardless of what the parent handler accepts.
type Sink struct {
	next  slog.Handler
	text  slog.Handler
	level slog.Leveler
	buf   *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// New wraps next. A nil next only records the transcript.
func New(next slog.Handler, level slog.Leveler) *Sink {
	if level == nil {
		level = slog.LevelDebug
	}
	buf := &lockedBuffer{}
	return &Sink{
		next:  next,
		text:  slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level}),
		level: level,
		buf:   buf,
	}
}

func (s *Sink) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= s.level.Level() {
		return true
	}
	return s.next != nil && s.next.Enabled(ctx, level)
}

func (s *Sink) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if s.next != nil && s.next.Enabled(ctx, r.Level) {
		err = s.next.Handle(ctx, r.Clone())
	}
	if r.Level >= s.level.Level() {
		if terr := s.text.Handle(ctx, r); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *s
	if s.next != nil {
		c.next = s.next.WithAttrs(attrs)
	}
	c.text = s.text.WithAttrs(attrs)
	return &c
}

func (s *Sink) WithGroup(name string) slog.Handler {
	c := *s
	if s.next != nil {
		c.next = s.next.WithGroup(name)
	}
	c.text = s.text.WithGroup(name)
	return &c
}

// Transcript returns everything recorded so far.
func (s *Sink) Transcript() string {
	return s.buf.String()
}
