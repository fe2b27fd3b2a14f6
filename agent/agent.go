// Package agent is the in-process instrumentation side of nodetap. A target
// program imports it and calls Activate early in main; when the supervisor
// launched the process with the channel fd and the enable flag set, the
// agent connects back over that channel and makes the process observable
// and controllable. Without both signals Activate returns a disabled,
// no-op agent, so linking the package alone never instruments anything.
package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nodetap/nodetap/internal/ipc"
)

// Agent is the lifetime-scoped instrumentation context. All interceptors
// and the suspension primitive hang off one explicitly constructed value;
// there is no ambient global state beyond the package-level Default.
type Agent struct {
	enabled     bool
	evalEnabled bool

	w  *ipc.Writer
	r  *ipc.Reader
	ch io.Closer // channel end; closing it unblocks the read loop

	mu     sync.Mutex
	state  map[string]any
	pauses []*pendingPause // FIFO of unresolved Breakpoint() calls

	stdout io.Writer
	done   chan struct{}
	once   sync.Once
}

// Activate builds the agent from the launch environment. The second
// return is false when the process was not started under a supervisor
// with injection enabled; the returned agent is then inert but safe to
// use, so call sites need no branching.
func Activate() (*Agent, bool) {
	fdStr := os.Getenv(ipc.EnvChannelFD)
	if fdStr == "" || os.Getenv(ipc.EnvAgentEnabled) != "1" {
		return &Agent{state: make(map[string]any), stdout: os.Stdout, done: make(chan struct{})}, false
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 3 {
		return &Agent{state: make(map[string]any), stdout: os.Stdout, done: make(chan struct{})}, false
	}

	ch := os.NewFile(uintptr(fd), "nodetap-ipc")
	a := &Agent{
		enabled:     true,
		evalEnabled: os.Getenv(ipc.EnvEvalEnabled) == "1",
		w:           ipc.NewWriter(ch),
		r:           ipc.NewReader(ch),
		ch:          ch,
		state:       make(map[string]any),
		stdout:      os.Stdout,
		done:        make(chan struct{}),
	}

	_ = a.w.Send(ipc.TypeReady, ipc.Ready{PID: os.Getpid(), RuntimeVersion: runtime.Version()})
	go a.readLoop()
	go a.sampleRuntime(10 * time.Second)
	return a, true
}

// Enabled reports whether the agent is connected to a supervisor.
func (a *Agent) Enabled() bool { return a.enabled }

// Close stops background work and closes the agent's end of the
// channel, which also releases a read loop parked on it. Idempotent,
// and safe on a disabled agent.
func (a *Agent) Close() {
	a.once.Do(func() {
		close(a.done)
		if a.ch != nil {
			_ = a.ch.Close()
		}
	})
}

// --- state surface ---

// Set stores a named value and mirrors it to the supervisor.
func (a *Agent) Set(key string, value any) {
	a.mu.Lock()
	a.state[key] = value
	a.mu.Unlock()
	if a.enabled {
		_ = a.w.Send(ipc.TypeState, ipc.State{Key: key, Value: Snapshot(value)})
	}
}

// Get reads a named value locally; no round trip.
func (a *Agent) Get(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.state[key]
	return v, ok
}

func (a *Agent) stateSnapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.state))
	for k, v := range a.state {
		out[k] = Snapshot(v)
	}
	return out
}

func (a *Agent) stateKeys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.state))
	for k := range a.state {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// --- events and spans ---

// Emit forwards an application-defined event.
func (a *Agent) Emit(name string, data any) {
	if !a.enabled {
		return
	}
	_ = a.w.Send(ipc.TypeEvent, ipc.Event{Name: name, Data: Snapshot(data)})
}

// StartSpan reports the start of a named operation and returns a func
// that reports its end with duration and optional error.
func (a *Agent) StartSpan(name string) func(err error) {
	start := time.Now()
	if a.enabled {
		_ = a.w.Send(ipc.TypeSpan, ipc.Span{Name: name, Phase: "start"})
	}
	return func(err error) {
		if !a.enabled {
			return
		}
		sp := ipc.Span{Name: name, Phase: "end", DurationMs: float64(time.Since(start)) / float64(time.Millisecond)}
		if err != nil {
			sp.Error = err.Error()
		}
		_ = a.w.Send(ipc.TypeSpan, sp)
	}
}

// --- fault path ---

// ReportError forwards a survivable error upstream. The process keeps
// running.
func (a *Agent) ReportError(err error) {
	if err == nil || !a.enabled {
		return
	}
	_ = a.w.Send(ipc.TypeError, ipc.Error{
		Kind:    "reported",
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	})
}

// ReportPanic forwards full panic detail, prints the stack, then
// terminates the process. Dying deliberately avoids a second, confusing
// failure from half-broken state. Use in a deferred recover at the top
// of main:
//
//	defer func() {
//		if r := recover(); r != nil {
//			ag.ReportPanic(r)
//		}
//	}()
func (a *Agent) ReportPanic(recovered any) {
	stack := string(debug.Stack())
	if a.enabled {
		_ = a.w.Send(ipc.TypeError, ipc.Error{
			Kind:    "uncaughtException",
			Name:    fmt.Sprintf("%T", recovered),
			Message: fmt.Sprint(recovered),
			Stack:   stack,
		})
	}
	fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", recovered, stack)
	os.Exit(2)
}

// --- inbound dispatch ---

func (a *Agent) readLoop() {
	for {
		select {
		case <-a.done:
			return
		default:
		}
		env, err := a.r.Next()
		if err != nil {
			// Bad frames are skipped; only a dead channel ends the loop.
			if errors.Is(err, ipc.ErrBadFrame) {
				continue
			}
			return
		}
		msg, err := env.Decode()
		if err != nil {
			continue
		}
		switch m := msg.(type) {
		case *ipc.EvalRequest:
			go a.handleEval(m)
		case *ipc.ResumeBreakpoint:
			a.resumeOldest(m.ReturnValue)
		case *ipc.TriggerBreakpoint:
			go func(label string) { _, _ = a.Breakpoint(label, nil) }(m.Label)
		default:
			switch env.Type {
			case ipc.TypeGlobalsRequest:
				_ = a.w.Send(ipc.TypeGlobalsResponse, ipc.GlobalsResponse{Names: a.stateKeys()})
			case ipc.TypeStateRequest:
				_ = a.w.Send(ipc.TypeStateResponse, ipc.StateResponse{State: a.stateSnapshot()})
			}
		}
	}
}

func (a *Agent) sampleRuntime(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			_ = a.w.Send(ipc.TypePerf, ipc.Perf{
				Kind: "runtime",
				Metrics: map[string]float64{
					"goroutines":     float64(runtime.NumGoroutine()),
					"heap_alloc":     float64(ms.HeapAlloc),
					"heap_objects":   float64(ms.HeapObjects),
					"gc_cycles":      float64(ms.NumGC),
					"gc_pause_total": float64(ms.PauseTotalNs),
				},
			})
		}
	}
}
