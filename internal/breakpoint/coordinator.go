package breakpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProtocolSession is the slice of the wire client the coordinator needs.
// Nil-able: a target without an inspector session simply reports not
// connected.
type ProtocolSession interface {
	IsPaused() bool
	Resume() error
}

// AgentChannel sends resume and trigger instructions into the target.
type AgentChannel interface {
	ResumeBreakpoint(returnValue any) error
	TriggerBreakpoint(label string) error
}

// Coordinator presents one pause model over engine pauses, pattern
// pauses and explicit pauses. All commands return a Result; nothing
// here panics into the controller.
type Coordinator struct {
	store *Store
	log   *slog.Logger

	mu        sync.Mutex
	session   ProtocolSession
	agent     AgentChannel
	connected bool
	active    *ActivePause
	prompts   []PromptEntry
}

func NewCoordinator(store *Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, log: log}
}

// BindSession installs the current debugger session. Called on every
// attach and with nils on detach; the persisted set is untouched.
func (c *Coordinator) BindSession(session ProtocolSession, agent AgentChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.agent = agent
	c.connected = session != nil
	// Any pause from the previous process died with it.
	c.active = nil
}

// GetStatus reports connection state, the current pause, and the
// persisted breakpoints with live hit counts.
func (c *Coordinator) GetStatus(ctx context.Context) (Status, error) {
	c.mu.Lock()
	st := Status{Connected: c.connected, Active: c.active}
	if c.active != nil {
		st.Paused = true
	} else if c.session != nil {
		st.Paused = c.session.IsPaused()
	}
	c.mu.Unlock()

	bps, err := c.store.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Breakpoints = bps
	return st, nil
}

// Resume releases whatever pause is active. The active pause is cleared
// before the underlying resume is issued, so no caller ever observes a
// stale paused status after Resume returns; if the instruction never
// reaches the target the pause is put back, because the target is in
// fact still suspended.
func (c *Coordinator) Resume(returnValue any) Result {
	c.mu.Lock()
	active := c.active
	session := c.session
	agent := c.agent
	c.active = nil
	c.mu.Unlock()

	switch {
	case active != nil && (active.Source == SourceExplicit || active.Source == SourcePattern):
		if agent == nil {
			c.reinstate(active)
			return fail("target channel is gone")
		}
		if err := agent.ResumeBreakpoint(returnValue); err != nil {
			c.reinstate(active)
			return fail("resume instruction failed: " + err.Error())
		}
		c.log.Debug("explicit pause resumed", "label", active.Label, "source", string(active.Source))
		return ok()

	case session != nil && session.IsPaused():
		if err := session.Resume(); err != nil {
			return fail("protocol resume failed: " + err.Error())
		}
		c.log.Debug("protocol pause resumed")
		return ok()

	default:
		return fail("no active pause")
	}
}

// reinstate restores a pause that was cleared optimistically but whose
// release never reached the target. A pause recorded in the meantime
// wins; the slot never holds two.
func (c *Coordinator) reinstate(p *ActivePause) {
	c.mu.Lock()
	if c.active == nil {
		c.active = p
	}
	c.mu.Unlock()
}

// TriggerNow asks the agent to pause at its next opportunity. Rejected,
// never queued, while any pause is already active.
func (c *Coordinator) TriggerNow(label string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return fail("a pause is already active")
	}
	if c.session != nil && c.session.IsPaused() {
		return fail("target is paused at an engine breakpoint")
	}
	if c.agent == nil {
		return fail("target channel is gone")
	}
	if err := c.agent.TriggerBreakpoint(label); err != nil {
		return fail("trigger instruction failed: " + err.Error())
	}
	return ok()
}

// PauseBegan records a new suspension announced by the target. Returns
// false when a pause is already active; the caller decides whether that
// is a protocol violation or a tolerated concurrent continuation.
func (c *Coordinator) PauseBegan(p ActivePause) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.log.Warn("pause announced while another is active, keeping the first",
			"active", c.active.Label, "new", p.Label)
		return false
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Started.IsZero() {
		p.Started = time.Now()
	}
	c.active = &p
	return true
}

// PauseEnded clears the active pause when the target resumed on its own
// (for example a breakpointResumed confirmation or a process exit).
func (c *Coordinator) PauseEnded() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

// Active returns the current pause, or nil.
func (c *Coordinator) Active() *ActivePause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RecordHit bumps the persisted hit counter for an engine breakpoint
// and, when it carries an enabled prompt, queues a prompt entry.
func (c *Coordinator) RecordHit(ctx context.Context, key Key, stack string) {
	if _, err := c.store.IncrementHit(ctx, key); err != nil {
		c.log.Warn("hit count update failed", "file", key.File, "line", key.Line, "error", err)
		return
	}
	bps, err := c.store.List(ctx)
	if err != nil {
		return
	}
	for _, bp := range bps {
		if bp.Key() == key && bp.PromptEnabled && bp.Prompt != "" {
			c.EnqueuePrompt(PromptEntry{
				File:      key.File,
				Line:      key.Line,
				Condition: key.Condition,
				Prompt:    bp.Prompt,
				Stack:     stack,
				Time:      time.Now(),
			})
			return
		}
	}
}

// EnqueuePrompt appends to the FIFO drained by the controller.
func (c *Coordinator) EnqueuePrompt(e PromptEntry) {
	c.mu.Lock()
	c.prompts = append(c.prompts, e)
	c.mu.Unlock()
}

// DrainPrompts returns all queued prompt entries, oldest first, and
// empties the queue.
func (c *Coordinator) DrainPrompts() []PromptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.prompts
	c.prompts = nil
	return out
}
