package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nodetap/nodetap/internal/ipc"
)

// Leveled logging surface. Each call forwards a structured message over
// the channel and still writes to the real stream, so plain observation
// of the process is unaffected.

func (a *Agent) Log(msg string, args ...any)   { a.emitLog("log", msg, args...) }
func (a *Agent) Info(msg string, args ...any)  { a.emitLog("info", msg, args...) }
func (a *Agent) Warn(msg string, args ...any)  { a.emitLog("warn", msg, args...) }
func (a *Agent) Error(msg string, args ...any) { a.emitLog("error", msg, args...) }
func (a *Agent) Debug(msg string, args ...any) { a.emitLog("debug", msg, args...) }

func (a *Agent) emitLog(level, msg string, args ...any) {
	line := msg
	if len(args) > 0 {
		line = fmt.Sprintf(msg, args...)
	}
	out := a.stdout
	if level == "error" {
		out = os.Stderr
	}
	fmt.Fprintln(out, line)
	if a.enabled {
		_ = a.w.Send(ipc.TypeLog, ipc.Log{Level: level, Message: line})
	}
}

// Handler wraps an existing slog.Handler so that every record the target
// logs is also forwarded upstream. This is the injected alternative to
// patching output functions: wire it into the target's logger once.
//
//	logger := slog.New(ag.Handler(slog.NewTextHandler(os.Stdout, nil)))
func (a *Agent) Handler(next slog.Handler) slog.Handler {
	return &forwardingHandler{agent: a, next: next}
}

type forwardingHandler struct {
	agent *Agent
	next  slog.Handler
}

func (h *forwardingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *forwardingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.agent.enabled {
		var sb strings.Builder
		sb.WriteString(r.Message)
		r.Attrs(func(attr slog.Attr) bool {
			sb.WriteString(" ")
			sb.WriteString(attr.String())
			return true
		})
		_ = h.agent.w.Send(ipc.TypeLog, ipc.Log{
			Level:   strings.ToLower(r.Level.String()),
			Message: sb.String(),
		})
	}
	return h.next.Handle(ctx, r)
}

func (h *forwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forwardingHandler{agent: h.agent, next: h.next.WithAttrs(attrs)}
}

func (h *forwardingHandler) WithGroup(name string) slog.Handler {
	return &forwardingHandler{agent: h.agent, next: h.next.WithGroup(name)}
}
