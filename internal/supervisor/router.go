package supervisor

import (
	"encoding/json"
	"fmt"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/ipc"
	"github.com/nodetap/nodetap/internal/metrics"
)

// handleIPC routes one agent envelope. Runs on the control loop.
func (s *Supervisor) handleIPC(ev event) {
	if ev.tgt != s.currentTarget() {
		return
	}
	msg, err := ev.env.Decode()
	if err != nil {
		s.log.Warn("dropped malformed agent message", "error", err)
		s.ring.Add("system", "dropped malformed agent message")
		return
	}

	switch m := msg.(type) {
	case *ipc.Ready:
		ev.tgt.setAgentInfo(m.PID, m.RuntimeVersion)
		s.ring.Add("system", fmt.Sprintf("agent ready (pid %d, %s)", m.PID, m.RuntimeVersion))
		s.log.Info("agent ready", "pid", m.PID, "runtime", m.RuntimeVersion)

	case *ipc.Log:
		s.record("agent:"+m.Level, m.Message)

	case *ipc.Error:
		s.record("error", fmt.Sprintf("%s: %s", m.Name, m.Message))
		if m.Kind == "uncaughtException" {
			s.log.Error("uncaught exception in target",
				"name", m.Name, "message", m.Message, "stack", m.Stack)
		} else {
			s.log.Warn("error reported by target", "name", m.Name, "message", m.Message)
		}

	case *ipc.State:
		s.mu.Lock()
		if s.agentState == nil {
			s.agentState = make(map[string]any)
		}
		s.agentState[m.Key] = m.Value
		s.mu.Unlock()

	case *ipc.StateResponse:
		s.mu.Lock()
		s.agentState = m.State
		s.mu.Unlock()

	case *ipc.Event:
		s.record("event", describePayload(m.Name, m.Data))

	case *ipc.Span:
		if m.Phase == "end" {
			detail := fmt.Sprintf("%s finished in %.1fms", m.Name, m.DurationMs)
			if m.Error != "" {
				detail += " (error: " + m.Error + ")"
			}
			s.record("span", detail)
		} else {
			s.record("span", m.Name+" started")
		}

	case *ipc.Diagnostic:
		s.record("diagnostic", describePayload(m.Channel, m.Detail))

	case *ipc.Perf:
		s.record("perf", describePayload(m.Kind, m.Metrics))

	case *ipc.EvalResponse:
		s.resolveEval(*m)

	case *ipc.GlobalsResponse:
		s.resolveGlobals(m.Names)

	case *ipc.BreakpointHit:
		s.handleBreakpointHit(m)

	case *ipc.BreakpointResumed:
		s.handleBreakpointResumed(m)

	default:
		// Supervisor-bound request types never flow this direction.
		s.log.Debug("ignored agent message", "type", string(ev.env.Type))
	}
}

// handleBreakpointHit registers an explicit or pattern pause. A hit that
// arrives while another pause is active is deferred, not dropped: the
// agent holds its goroutines in FIFO order, so the deferred hit becomes
// the active pause once the current one resumes.
func (s *Supervisor) handleBreakpointHit(m *ipc.BreakpointHit) {
	source := breakpoint.SourceExplicit
	if s.pendingPatternLabel != "" && m.Label == s.pendingPatternLabel {
		source = breakpoint.SourcePattern
	}
	s.pendingPatternLabel = ""

	pause := breakpoint.ActivePause{
		ID:      m.ID,
		Source:  source,
		Label:   m.Label,
		Stack:   m.Stack,
		Context: m.Context,
		State:   m.State,
	}
	if !s.coord.PauseBegan(pause) {
		s.deferredHits = append(s.deferredHits, m)
		return
	}
	metrics.IncPause(s.spec.Name, string(source))
	s.ring.Add("breakpoint", fmt.Sprintf("breakpoint %q hit", m.Label))
	s.persist(history.EventPause, m.Label)
}

func (s *Supervisor) handleBreakpointResumed(m *ipc.BreakpointResumed) {
	s.coord.PauseEnded()
	metrics.IncResume(s.spec.Name)
	s.ring.Add("breakpoint", fmt.Sprintf("breakpoint %q resumed after %dms", m.Label, m.PauseDurationMs))
	s.persist(history.EventResume, m.Label)

	s.promoteDeferredHit()
}

// promoteDeferredHit activates the oldest agent hit that arrived while
// another pause held the slot. The agent keeps its suspended goroutines
// in FIFO order, so the head of the queue is the one the next resume
// releases.
func (s *Supervisor) promoteDeferredHit() {
	if len(s.deferredHits) == 0 {
		return
	}
	next := s.deferredHits[0]
	s.deferredHits = s.deferredHits[1:]
	s.handleBreakpointHit(next)
}

func describePayload(name string, data any) string {
	if data == nil {
		return name
	}
	b, err := json.Marshal(data)
	if err != nil {
		return name
	}
	return name + " " + string(b)
}
