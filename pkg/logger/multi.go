package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanout sends each record to every handler that accepts its level. The serve
// command uses it to log pretty lines to the terminal and JSON to --log-file.
type fanout []slog.Handler

// Multi returns a logger that writes through each of loggers. Nil loggers are
// skipped, so callers can pass an optional file logger unconditionally.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	var f fanout
	for _, l := range loggers {
		if l != nil {
			f = append(f, l.Handler())
		}
	}
	return slog.New(f)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps going when one sink fails so a full disk does not silence the
// terminal.
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
