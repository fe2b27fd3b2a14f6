package agent

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nodetap/nodetap/internal/ipc"
)

// pendingPause is one unresolved Breakpoint() continuation.
type pendingPause struct {
	id      string
	label   string
	started time.Time
	resume  chan any
}

// Breakpoint suspends the calling goroutine until the supervisor sends a
// resume instruction, whose optional return value becomes this call's
// result. There is deliberately no timeout: a human or agent on the other
// side decides when the target may continue. Only the calling goroutine
// blocks; the agent's channel handling is unaffected.
//
// When the agent is disabled the call returns immediately with nil, so
// instrumented code runs unchanged outside a supervisor.
func (a *Agent) Breakpoint(label string, context any) (any, error) {
	if !a.enabled {
		return nil, nil
	}

	p := &pendingPause{
		id:      uuid.NewString(),
		label:   label,
		started: time.Now(),
		resume:  make(chan any, 1),
	}
	a.mu.Lock()
	a.pauses = append(a.pauses, p)
	a.mu.Unlock()

	hit := ipc.BreakpointHit{
		ID:      p.id,
		Label:   label,
		Context: Snapshot(context),
		Stack:   string(debug.Stack()),
		State:   a.stateSnapshot(),
	}
	if err := a.w.Send(ipc.TypeBreakpointHit, hit); err != nil {
		a.dropPause(p.id)
		return nil, fmt.Errorf("agent: announce breakpoint: %w", err)
	}
	fmt.Fprintf(a.stdout, "●  breakpoint %q hit, waiting for resume\n", label)

	ret := <-p.resume

	elapsed := time.Since(p.started)
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1 // a resumed pause always took time, even sub-millisecond
	}
	_ = a.w.Send(ipc.TypeBreakpointResumed, ipc.BreakpointResumed{
		ID:              p.id,
		Label:           label,
		PauseDurationMs: ms,
	})
	fmt.Fprintf(a.stdout, "●  breakpoint %q resumed after %s\n", label, elapsed.Round(time.Millisecond))
	return ret, nil
}

// resumeOldest releases the earliest pending pause. The resume message
// carries no pause id: at most one pause is expected per process, and
// FIFO keeps concurrent extras deterministic.
func (a *Agent) resumeOldest(returnValue any) {
	a.mu.Lock()
	if len(a.pauses) == 0 {
		a.mu.Unlock()
		return
	}
	p := a.pauses[0]
	a.pauses = a.pauses[1:]
	a.mu.Unlock()
	p.resume <- returnValue
}

func (a *Agent) dropPause(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.pauses {
		if p.id == id {
			a.pauses = append(a.pauses[:i], a.pauses[i+1:]...)
			return
		}
	}
}
