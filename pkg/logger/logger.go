// Package logger builds the process-wide slog.Logger for the LMS assistant and
// provides attribute helpers shared by every component.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the handler used to render records.
type Format string

const (
	// FormatJSON renders one JSON object per record. Used in production.
	FormatJSON Format = "json"
	// FormatText renders colored, human friendly lines. Used in development.
	FormatText Format = "text"
)

// ParseLevel parses a string into a slog.Level. Unknown values map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat parses a string into a Format. Unknown values map to JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// Options configures the logger.
type Options struct {
	Output  io.Writer
	Level   slog.Level
	Format  Format
	NoColor bool
	// Service is attached to every record as "service".
	Service string
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// New creates a slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatText:
		handler = tint.NewHandler(opts.Output, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
			NoColor:    opts.NoColor,
		})
	default:
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.Level,
		})
	}

	l := slog.New(handler)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RequestIDKey is the attribute key for request tracing.
const RequestIDKey = "request_id"

func RequestID(id string) slog.Attr       { return slog.String(RequestIDKey, id) }
func Component(name string) slog.Attr     { return slog.String("component", name) }
func Operation(name string) slog.Attr     { return slog.String("operation", name) }
func Capability(name string) slog.Attr    { return slog.String("capability", name) }
func Attempt(n int) slog.Attr             { return slog.Int("attempt", n) }
func StatusCode(code int) slog.Attr       { return slog.Int("status_code", code) }
func Latency(d time.Duration) slog.Attr   { return slog.Duration("latency", d) }
func IdempotencyKey(key string) slog.Attr { return slog.String("idempotency_key", key) }
func Fingerprint(value string) slog.Attr  { return slog.String("credential_fp", value) }
func Path(p string) slog.Attr             { return slog.String("path", p) }

// Err creates an error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("")}
	}
	return slog.String("error", err.Error())
}
