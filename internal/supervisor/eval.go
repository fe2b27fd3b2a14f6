package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/ipc"
	"github.com/nodetap/nodetap/internal/metrics"
)

// DefaultEvalTimeout bounds one evaluation round trip to the agent.
const DefaultEvalTimeout = 5 * time.Second

// EvalResult is the agent's answer to one evaluation. A disabled eval
// facility answers with Success=false and an explanatory Error; that is
// a normal result, not an error return.
type EvalResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Evaluate sends code to the agent and waits for the correlated
// response. On timeout the request is abandoned and a response arriving
// later for the same id is discarded without effect.
func (s *Supervisor) Evaluate(ctx context.Context, code string, timeout time.Duration) (EvalResult, error) {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}
	w := s.ipcWriter()
	if w == nil {
		return EvalResult{}, ErrNotRunning
	}

	id := uuid.NewString()
	ch := make(chan ipc.EvalResponse, 1)
	s.evalMu.Lock()
	s.evals[id] = ch
	s.evalMu.Unlock()
	drop := func() {
		s.evalMu.Lock()
		delete(s.evals, id)
		s.evalMu.Unlock()
	}

	if err := w.Send(ipc.TypeEvalRequest, ipc.EvalRequest{ID: id, Code: code}); err != nil {
		drop()
		return EvalResult{}, fmt.Errorf("send evaluation: %w", err)
	}

	select {
	case resp := <-ch:
		s.persist(history.EventEval, summarizeEval(code, resp.Success))
		return EvalResult{Success: resp.Success, Result: resp.Result, Error: resp.Error}, nil
	case <-time.After(timeout):
		drop()
		metrics.IncEvalTimeout(s.spec.Name)
		s.ring.Add("system", fmt.Sprintf("evaluation timed out after %s", timeout))
		return EvalResult{}, &EvalTimeoutError{ID: id, Timeout: timeout}
	case <-ctx.Done():
		drop()
		return EvalResult{}, ctx.Err()
	}
}

// resolveEval completes a pending evaluation. Responses whose id is no
// longer pending were timed out and are dropped here.
func (s *Supervisor) resolveEval(resp ipc.EvalResponse) {
	s.evalMu.Lock()
	ch, ok := s.evals[resp.ID]
	if ok {
		delete(s.evals, resp.ID)
	}
	s.evalMu.Unlock()
	if !ok {
		s.log.Debug("discarded late evaluation response", "id", resp.ID)
		return
	}
	ch <- resp
}

// failPendingEvals unblocks every waiter after the target exits; their
// responses can never arrive.
func (s *Supervisor) failPendingEvals() {
	s.evalMu.Lock()
	pending := s.evals
	s.evals = make(map[string]chan ipc.EvalResponse)
	globals := s.globalsWait
	s.globalsWait = nil
	s.evalMu.Unlock()
	for id, ch := range pending {
		ch <- ipc.EvalResponse{ID: id, Error: "target exited before responding"}
	}
	if globals != nil {
		globals <- nil
	}
}

// Globals asks the agent for the names on its state surface.
func (s *Supervisor) Globals(timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}
	w := s.ipcWriter()
	if w == nil {
		return nil, ErrNotRunning
	}

	ch := make(chan []string, 1)
	s.evalMu.Lock()
	if s.globalsWait != nil {
		s.evalMu.Unlock()
		return nil, errors.New("a globals request is already in flight")
	}
	s.globalsWait = ch
	s.evalMu.Unlock()
	drop := func() {
		s.evalMu.Lock()
		if s.globalsWait == ch {
			s.globalsWait = nil
		}
		s.evalMu.Unlock()
	}

	if err := w.Send(ipc.TypeGlobalsRequest, nil); err != nil {
		drop()
		return nil, fmt.Errorf("send globals request: %w", err)
	}
	select {
	case names := <-ch:
		return names, nil
	case <-time.After(timeout):
		drop()
		return nil, fmt.Errorf("globals request timed out after %s", timeout)
	}
}

func (s *Supervisor) resolveGlobals(names []string) {
	s.evalMu.Lock()
	ch := s.globalsWait
	s.globalsWait = nil
	s.evalMu.Unlock()
	if ch != nil {
		ch <- names
	}
}

// RefreshState asks the agent to re-send its full state surface. The
// answer lands in AgentState asynchronously.
func (s *Supervisor) RefreshState() error {
	w := s.ipcWriter()
	if w == nil {
		return ErrNotRunning
	}
	return w.Send(ipc.TypeStateRequest, nil)
}

func summarizeEval(code string, success bool) string {
	const max = 120
	if len(code) > max {
		code = code[:max] + "..."
	}
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	return outcome + ": " + code
}
