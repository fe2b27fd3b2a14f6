package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}

// consoleHandler prefixes each record's message with its colorized
// level name on top of the standard text handler.
type consoleHandler struct {
	slog.Handler
}

// NewConsole returns the handler for the controller's own stderr
// output. File sinks should stay with a plain handler; the escape
// codes are for terminals.
func NewConsole(w io.Writer, level slog.Leveler) slog.Handler {
	return &consoleHandler{Handler: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})}
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	return h.Handler.Handle(ctx, r)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	return &consoleHandler{Handler: h.Handler.WithGroup(name)}
}
