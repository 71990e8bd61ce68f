package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New builds a structured logger. format is "json" or "text"; unknown levels
// fall back to info.
func New(w io.Writer, level, format, prefix string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	formatter := log.TextFormatter
	if strings.EqualFold(format, "json") {
		formatter = log.JSONFormatter
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	if err != nil && level != "" {
		l.Warn("invalid log level, defaulting to info", "configured_level", level)
	}
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// FromContext returns the request-scoped logger or the default logger.
func FromContext(ctx context.Context) *log.Logger {
	return log.FromContext(ctx)
}

// ToContext embeds l into ctx.
func ToContext(ctx context.Context, l *log.Logger) context.Context {
	return log.WithContext(ctx, l)
}
