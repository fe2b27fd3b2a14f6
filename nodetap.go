package nodetap

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nodetap/nodetap/internal/breakpoint"
	cfg "github.com/nodetap/nodetap/internal/config"
	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/history/factory"
	"github.com/nodetap/nodetap/internal/logring"
	"github.com/nodetap/nodetap/internal/metrics"
	iapi "github.com/nodetap/nodetap/internal/server"
	"github.com/nodetap/nodetap/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = supervisor.Spec

type Status = supervisor.Status

type WatchConfig = supervisor.WatchConfig

type EvalResult = supervisor.EvalResult

type Breakpoint = breakpoint.Persisted

type BreakpointKey = breakpoint.Key

type Pattern = breakpoint.Pattern

type PromptEntry = breakpoint.PromptEntry

type Result = breakpoint.Result

type LogRecord = logring.Record

type HistorySink = history.Sink

// Tap is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Tap struct {
	inner *supervisor.Supervisor
	store *breakpoint.Store
}

// Options configures an embedded Tap.
type Options struct {
	Spec Spec
	// StorePath is the sqlite file for persisted breakpoints;
	// ":memory:" when empty.
	StorePath string
	// RingSize bounds the captured log buffer; 0 means the default.
	RingSize int
	History  []HistorySink
}

// New creates a Tap around one target. The target is not started.
func New(opts Options) (*Tap, error) {
	path := opts.StorePath
	if path == "" {
		path = ":memory:"
	}
	store, err := breakpoint.NewStore(context.Background(), path)
	if err != nil {
		return nil, err
	}
	var ring *logring.Ring
	if opts.RingSize > 0 {
		ring = logring.New(opts.RingSize)
	}
	sup, err := supervisor.New(supervisor.Options{
		Spec:    opts.Spec,
		Ring:    ring,
		Store:   store,
		History: opts.History,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Tap{inner: sup, store: store}, nil
}

func (t *Tap) Start() error   { return t.inner.Start() }
func (t *Tap) Stop() error    { return t.inner.Stop() }
func (t *Tap) Restart() error { return t.inner.Restart() }

// Close shuts the supervisor down and releases the breakpoint store.
func (t *Tap) Close() error {
	err := t.inner.Shutdown()
	if cerr := t.store.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Tap) Status() Status            { return t.inner.Status() }
func (t *Tap) Logs(n int) []LogRecord    { return t.inner.Ring().Tail(n) }
func (t *Tap) WriteStdin(s string) error { return t.inner.WriteStdin(s) }
func (t *Tap) AgentState() map[string]any {
	return t.inner.AgentState()
}

func (t *Tap) SetBreakpoint(ctx context.Context, bp Breakpoint) (Breakpoint, error) {
	return t.inner.SetBreakpoint(ctx, bp)
}

func (t *Tap) RemoveBreakpoint(ctx context.Context, key BreakpointKey) error {
	return t.inner.RemoveBreakpoint(ctx, key)
}

func (t *Tap) EnableBreakpoint(ctx context.Context, key BreakpointKey, enabled bool) error {
	return t.inner.SetBreakpointEnabled(ctx, key, enabled)
}

func (t *Tap) ListBreakpoints(ctx context.Context) ([]Breakpoint, error) {
	return t.inner.ListBreakpoints(ctx)
}

func (t *Tap) AddPattern(pattern, label string)    { t.inner.Patterns().Add(pattern, label) }
func (t *Tap) RemovePattern(pattern string)        { t.inner.Patterns().Remove(pattern) }
func (t *Tap) EnablePattern(p string, on bool)     { t.inner.Patterns().SetEnabled(p, on) }
func (t *Tap) ListPatterns() []Pattern             { return t.inner.Patterns().List() }
func (t *Tap) Resume(returnValue any) Result       { return t.inner.Coordinator().Resume(returnValue) }
func (t *Tap) TriggerNow(label string) Result      { return t.inner.Coordinator().TriggerNow(label) }
func (t *Tap) DrainPrompts() []PromptEntry         { return t.inner.Coordinator().DrainPrompts() }

func (t *Tap) Evaluate(ctx context.Context, code string, timeout time.Duration) (EvalResult, error) {
	return t.inner.Evaluate(ctx, code, timeout)
}

func (t *Tap) Globals(timeout time.Duration) ([]string, error) { return t.inner.Globals(timeout) }

func LoadConfig(path string) (*cfg.FileConfig, error) {
	return cfg.Load(path)
}

// NewSinkFromDSN creates a history sink for a sqlite, postgres or
// clickhouse DSN.
func NewSinkFromDSN(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the control API for the given tap.
func NewHTTPServer(addr, basePath string, t *Tap) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, t.inner, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
