// ABOUTME: Structured slog setup with redaction and context enrichment
// ABOUTME: JSON or text output carrying service metadata, trace ids and correlation ids

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig holds configuration for structured logging.
type LoggingConfig struct {
	// Log level: debug, info, warn, error.
	Level string

	// Output format: json or text.
	Format string

	ServiceName string
	Version     string

	AddSource bool
}

// NewLogger creates a logger. Every record passes through RedactAttr and
// picks up trace, span and correlation ids from the context it is logged with.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: RedactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// ParseLogLevel parses a log level string into a slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler adds trace_id, span_id and correlation_id when present.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := ExtractTraceID(ctx); id != "" {
			r.AddAttrs(slog.String("trace_id", id))
		}
		if id := ExtractSpanID(ctx); id != "" {
			r.AddAttrs(slog.String("span_id", id))
		}
		if id := FromContext(ctx); id != "" {
			r.AddAttrs(slog.String("correlation_id", id.String()))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
