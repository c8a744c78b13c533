package logger

import (
	"io"
	"log/slog"
)

// Option configures a Logger created with New.
type Option func(*config)

// WithDebug maps the global --debug flag onto a level.
func WithDebug(debug bool) Option {
	return func(c *config) {
		c.level = slog.LevelInfo
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithPretty selects the colorized charmbracelet/log handler used by CLI
// commands and the serve command's terminal output.
func WithPretty(pretty bool) Option {
	return func(c *config) {
		c.pretty = pretty
	}
}

// WithJSON selects slog's JSON handler, used for the serve log file.
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithWriter overrides the output writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.w = w
	}
}
