// Package logger builds the *slog.Logger instances used across ragrelay.
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level  slog.Level
	pretty bool
	json   bool
	w      io.Writer
}

// New returns a *slog.Logger configured by opts. Without options it writes
// slog text records at Info level to os.Stdout. Pretty wins over JSON when
// both are set.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(c)
	}
	if c.w == nil {
		c.w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: c.level}
	switch {
	case c.pretty:
		return slog.New(charmlog.NewWithOptions(c.w, charmlog.Options{
			Level:           prettyLevel(c.level),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
		}))
	case c.json:
		return slog.New(slog.NewJSONHandler(c.w, handlerOpts))
	default:
		return slog.New(slog.NewTextHandler(c.w, handlerOpts))
	}
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func prettyLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level >= slog.LevelError:
		return charmlog.ErrorLevel
	case level >= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.InfoLevel
	}
}
