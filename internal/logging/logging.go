// Package logging builds the root zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Base builds the process logger on stderr, leaving stdout to command output.
// format: json|console; level: trace|debug|info|warn|error
func Base(app, level, format string) zerolog.Logger {
	return New(os.Stderr, app, level, format)
}

// New builds a logger writing to w.
func New(w io.Writer, app, level, format string) zerolog.Logger {
	return zerolog.New(writerForFormat(w, format)).
		Level(ParseLevel(level)).
		With().Timestamp().Str("app", app).
		Logger()
}

// ParseLevel falls back to info on anything zerolog does not know.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel
	}

	if lvl, err := zerolog.ParseLevel(s); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}

	return zerolog.InfoLevel
}

func writerForFormat(w io.Writer, format string) io.Writer {
	if strings.ToLower(strings.TrimSpace(format)) != "console" {
		return w
	}

	return zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w), TimeFormat: time.TimeOnly}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
