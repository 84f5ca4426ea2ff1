package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger returns the service logger writing JSON lines to stdout.
func NewLogger(service, level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, service, level)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().
		Str("service", service).
		Timestamp().
		Logger()
}
