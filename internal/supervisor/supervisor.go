// Package supervisor owns the target process: launch with the agent
// channel and debug flags wired in, capture of stdout/stderr into the
// log ring, crash restarts, and the funnel that turns process output,
// agent messages and debugger events into one coordinated pause model.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/cdp"
	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/ipc"
	"github.com/nodetap/nodetap/internal/logring"
	"github.com/nodetap/nodetap/internal/metrics"
)

type procState int

const (
	stateStopped procState = iota
	stateStarting
	stateRunning
	stateExiting
)

func (p procState) String() string {
	switch p {
	case stateStopped:
		return "stopped"
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
	actionShutdown
)

type command struct {
	action commandAction
	reply  chan error
}

type eventKind int

const (
	evOutput eventKind = iota // one stdout/stderr line
	evIPC                     // one agent envelope
	evExit                    // cmd.Wait returned
	evFunc                    // closure to run on the loop
	evSettle                  // interactive quiet-period timer fired
	evRestartDue              // crash backoff expired
	evWatch                   // watched source file changed
)

type event struct {
	kind   eventKind
	tgt    *target
	stream string
	line   string
	env    ipc.Envelope
	code   int
	err    error
	fn     func()
	path   string
}

// Options configures a Supervisor. Spec and Store are required.
type Options struct {
	Spec    Spec
	Logger  *slog.Logger
	Ring    *logring.Ring
	Store   *breakpoint.Store
	History []history.Sink
}

// Supervisor drives one target process for its whole logical life,
// across restarts. All lifecycle mutations flow through a single
// goroutine; accessors read mutex-guarded snapshots.
type Supervisor struct {
	spec     Spec
	log      *slog.Logger
	ring     *logring.Ring
	store    *breakpoint.Store
	coord    *breakpoint.Coordinator
	patterns *breakpoint.PatternSet
	sinks    []history.Sink

	cmdChan chan command
	events  chan event
	done    chan struct{}

	mu         sync.RWMutex
	state      procState
	tgt        *target
	restarts   int
	client     *cdp.Client
	ipcW       *ipc.Writer
	agentState map[string]any
	liveIDs    map[breakpoint.Key]string // persisted key -> session protocol id

	evalMu      sync.Mutex
	evals       map[string]chan ipc.EvalResponse
	globalsWait chan []string

	// loop-owned, touched only from run()
	settleTimer         *time.Timer
	settleNoted         bool
	restartTimer        *time.Timer
	pendingPatternLabel string
	deferredHits        []*ipc.BreakpointHit

	watcher *Watcher
}

// New creates a supervisor and starts its control loop. The target is
// not launched until Start.
func New(opts Options) (*Supervisor, error) {
	spec := opts.Spec.normalized()
	if spec.Command == "" {
		return nil, errors.New("supervisor: command is required")
	}
	if opts.Store == nil {
		return nil, errors.New("supervisor: breakpoint store is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ring := opts.Ring
	if ring == nil {
		ring = logring.New(0)
	}

	s := &Supervisor{
		spec:     spec,
		log:      log,
		ring:     ring,
		store:    opts.Store,
		patterns: breakpoint.NewPatternSet(),
		sinks:    opts.History,
		cmdChan:  make(chan command, 16),
		events:   make(chan event, 512),
		done:     make(chan struct{}),
		evals:    make(map[string]chan ipc.EvalResponse),
	}
	s.coord = breakpoint.NewCoordinator(opts.Store, log)

	if len(spec.Watch.Paths) > 0 {
		w, err := NewWatcher(spec.Watch, log, func(path string) {
			s.post(event{kind: evWatch, path: path})
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: watch: %w", err)
		}
		s.watcher = w
	}

	go s.run()
	return s, nil
}

// Start launches the target. Fails when it is already running.
func (s *Supervisor) Start() error { return s.exec(actionStart) }

// Stop terminates the target and waits for it to be reaped. Idempotent.
func (s *Supervisor) Stop() error { return s.exec(actionStop) }

// Restart stops then starts the target. Persisted breakpoints survive
// and are re-installed once a new debug session attaches.
func (s *Supervisor) Restart() error { return s.exec(actionRestart) }

// Shutdown stops the target and ends the control loop. The supervisor
// is unusable afterwards.
func (s *Supervisor) Shutdown() error { return s.exec(actionShutdown) }

func (s *Supervisor) exec(a commandAction) error {
	cmd := command{action: a, reply: make(chan error, 1)}
	select {
	case s.cmdChan <- cmd:
	case <-s.done:
		return errors.New("supervisor is shut down")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return nil
	}
}

// Ring returns the captured log buffer.
func (s *Supervisor) Ring() *logring.Ring { return s.ring }

// Coordinator returns the pause coordination layer.
func (s *Supervisor) Coordinator() *breakpoint.Coordinator { return s.coord }

// Patterns returns the log-pattern breakpoint set.
func (s *Supervisor) Patterns() *breakpoint.PatternSet { return s.patterns }

// Spec returns the normalized launch configuration.
func (s *Supervisor) Spec() Spec { return s.spec }

// Client returns the live debug session, or nil when detached.
func (s *Supervisor) Client() *cdp.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Status reports the merged process, session and pause view.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	tgt := s.tgt
	state := s.state
	restarts := s.restarts
	client := s.client
	s.mu.RUnlock()

	var st Status
	if tgt != nil {
		st = tgt.snapshot()
	}
	st.Name = s.spec.Name
	st.State = state.String()
	st.Restarts = restarts
	if s.coord.Active() != nil {
		st.Paused = true
	} else if client != nil {
		st.Paused = client.IsPaused()
	}
	return st
}

// TargetPID returns the live target's PID, or 0.
func (s *Supervisor) TargetPID() int {
	if tgt := s.currentTarget(); tgt != nil {
		return tgt.getPID()
	}
	return 0
}

// WriteStdin forwards one line to the target's stdin. Only valid for
// interactive targets.
func (s *Supervisor) WriteStdin(line string) error {
	tgt := s.currentTarget()
	if tgt == nil {
		return ErrNotRunning
	}
	return tgt.writeStdin(line)
}

// AgentState returns the mirrored state surface of the agent.
func (s *Supervisor) AgentState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.agentState))
	for k, v := range s.agentState {
		out[k] = v
	}
	return out
}

// SetBreakpoint persists a breakpoint and installs it live when a debug
// session is attached. The returned copy carries the session protocol
// id when installation succeeded.
func (s *Supervisor) SetBreakpoint(ctx context.Context, bp breakpoint.Persisted) (breakpoint.Persisted, error) {
	if bp.File == "" || bp.Line <= 0 {
		return bp, errors.New("breakpoint needs a file and a 1-based line")
	}
	bp.ID = ""
	if err := s.store.Upsert(ctx, bp); err != nil {
		return bp, err
	}
	if c := s.Client(); c != nil && bp.Enabled {
		installed, err := c.SetBreakpoint(bp.File, bp.Line, bp.Condition)
		if err != nil {
			s.log.Warn("live breakpoint install failed", "file", bp.File, "line", bp.Line, "error", err)
		} else {
			bp.ID = installed.ID
			s.setLiveID(bp.Key(), installed.ID)
		}
	}
	return bp, nil
}

// RemoveBreakpoint deletes a breakpoint from the persisted set and,
// when installed, from the live session.
func (s *Supervisor) RemoveBreakpoint(ctx context.Context, key breakpoint.Key) error {
	if err := s.store.Remove(ctx, key); err != nil {
		return err
	}
	if id := s.takeLiveID(key); id != "" {
		if c := s.Client(); c != nil {
			_ = c.RemoveBreakpoint(id)
		}
	}
	return nil
}

// SetBreakpointEnabled flips a persisted breakpoint and mirrors the
// change into the live session.
func (s *Supervisor) SetBreakpointEnabled(ctx context.Context, key breakpoint.Key, enabled bool) error {
	if err := s.store.SetEnabled(ctx, key, enabled); err != nil {
		return err
	}
	c := s.Client()
	if c == nil {
		return nil
	}
	if enabled {
		if installed, err := c.SetBreakpoint(key.File, key.Line, key.Condition); err == nil {
			s.setLiveID(key, installed.ID)
		}
	} else if id := s.takeLiveID(key); id != "" {
		_ = c.RemoveBreakpoint(id)
	}
	return nil
}

// ListBreakpoints returns the persisted set with session protocol ids
// filled in where live.
func (s *Supervisor) ListBreakpoints(ctx context.Context) ([]breakpoint.Persisted, error) {
	bps, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bps {
		if id, ok := s.liveID(bps[i].Key()); ok {
			bps[i].ID = id
		}
	}
	return bps, nil
}

// control loop

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmdChan:
			if s.handleCommand(cmd) {
				return
			}
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

// handleCommand executes one lifecycle command; true means shut down.
func (s *Supervisor) handleCommand(cmd command) bool {
	switch cmd.action {
	case actionStart:
		cmd.reply <- s.handleStart()
	case actionStop:
		cmd.reply <- s.handleStop()
	case actionRestart:
		cmd.reply <- s.handleRestart()
	case actionShutdown:
		s.handleShutdown()
		cmd.reply <- nil
		return true
	}
	return false
}

func (s *Supervisor) handleEvent(ev event) {
	switch ev.kind {
	case evOutput:
		s.handleOutput(ev)
	case evIPC:
		s.handleIPC(ev)
	case evExit:
		s.handleExit(ev)
	case evFunc:
		ev.fn()
	case evSettle:
		s.handleSettle(ev)
	case evRestartDue:
		s.handleRestartDue()
	case evWatch:
		s.handleWatch(ev)
	}
}

func (s *Supervisor) handleStart() error {
	if st := s.getState(); st != stateStopped {
		return fmt.Errorf("target %s is already %s", s.spec.Name, st)
	}
	s.cancelRestartTimer()
	return s.doStart()
}

func (s *Supervisor) handleStop() error {
	s.cancelRestartTimer()
	if s.getState() == stateStopped {
		return nil
	}
	tgt := s.currentTarget()
	if tgt == nil {
		s.setState(stateStopped)
		return nil
	}
	s.setState(stateExiting)
	tgt.setStopRequested(true)
	tgt.terminate(s.spec.StopTimeout)
	// The exit event is already queued (or imminent); reap it so the
	// caller observes a stopped target when Stop returns.
	s.awaitStopped(5 * time.Second)
	return nil
}

func (s *Supervisor) handleRestart() error {
	if err := s.handleStop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	if err := s.doStart(); err != nil {
		return err
	}
	metrics.IncRestart(s.spec.Name)
	s.persist(history.EventRestart, "restart requested")
	return nil
}

func (s *Supervisor) handleShutdown() {
	_ = s.handleStop()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.stopSettleTimer()
}

// awaitStopped keeps draining events until the exit of the current
// target has been processed.
func (s *Supervisor) awaitStopped(limit time.Duration) {
	deadline := time.After(limit)
	for s.getState() != stateStopped {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-deadline:
			return
		}
	}
}

func (s *Supervisor) handleExit(ev event) {
	tgt := s.currentTarget()
	if tgt == nil || ev.tgt != tgt {
		return
	}
	tgt.markExited(ev.code, ev.err)
	tgt.closeFiles()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.ipcW = nil
	s.liveIDs = nil
	s.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	s.coord.BindSession(nil, nil)
	s.stopSettleTimer()
	s.pendingPatternLabel = ""
	s.deferredHits = nil
	s.failPendingEvals()

	intentional := tgt.isStopRequested()
	s.setState(stateStopped)
	metrics.IncStop(s.spec.Name)

	switch {
	case intentional:
		s.ring.Add("system", fmt.Sprintf("target stopped (exit code %d)", ev.code))
		s.log.Info("target stopped", "name", s.spec.Name, "exit_code", ev.code)
		s.persist(history.EventStop, fmt.Sprintf("exit code %d", ev.code))
	case ev.code == 0:
		s.ring.Add("system", "target exited cleanly")
		s.log.Info("target exited", "name", s.spec.Name)
		s.persist(history.EventStop, "exit code 0")
	default:
		s.ring.Add("system", fmt.Sprintf("target crashed (exit code %d)", ev.code))
		s.log.Warn("target crashed", "name", s.spec.Name, "exit_code", ev.code, "error", ev.err)
		s.persist(history.EventCrash, fmt.Sprintf("exit code %d", ev.code))
		if s.spec.AutoRestart {
			backoff := s.spec.RestartBackoff
			s.ring.Add("system", fmt.Sprintf("restarting in %s", backoff))
			s.restartTimer = time.AfterFunc(backoff, func() {
				s.post(event{kind: evRestartDue})
			})
		}
	}
}

func (s *Supervisor) handleRestartDue() {
	if s.getState() != stateStopped {
		return
	}
	s.restartTimer = nil
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	if err := s.doStart(); err != nil {
		s.log.Error("auto-restart failed", "name", s.spec.Name, "error", err)
		s.ring.Add("system", "auto-restart failed: "+err.Error())
		return
	}
	metrics.IncRestart(s.spec.Name)
	s.persist(history.EventRestart, "after crash")
}

func (s *Supervisor) handleWatch(ev event) {
	s.ring.Add("system", "source change detected: "+ev.path)
	s.log.Info("source change detected", "path", ev.path)
	if s.getState() != stateRunning {
		return
	}
	if err := s.handleRestart(); err != nil {
		s.log.Warn("watch restart failed", "error", err)
	}
}

func (s *Supervisor) handleOutput(ev event) {
	tgt := s.currentTarget()
	if tgt == nil || ev.tgt != tgt {
		return
	}
	s.mirrorLine(tgt, ev.stream, ev.line)
	if ev.stream == "stderr" {
		s.maybeAttach(tgt, ev.line)
	}
	s.record(ev.stream, ev.line)
	if s.spec.Interactive {
		s.resetSettleTimer(tgt)
	}
}

// record captures one log line into the ring and checks it against the
// pattern breakpoints. The supervisor's own system and breakpoint
// annotations bypass this path and are never pattern-matched.
func (s *Supervisor) record(category, message string) {
	s.ring.Add(category, message)
	metrics.IncLogRecord(s.spec.Name, category)
	s.tryPatternTrigger(message)
}

func (s *Supervisor) tryPatternTrigger(message string) {
	if s.coord.Active() != nil {
		return
	}
	if c := s.Client(); c != nil && c.IsPaused() {
		return
	}
	w := s.ipcWriter()
	if w == nil {
		return
	}
	p, okMatch := s.patterns.Match(message)
	if !okMatch {
		return
	}
	label := p.Label
	if label == "" {
		label = p.Pattern
	}
	s.pendingPatternLabel = label
	if err := w.Send(ipc.TypeTriggerBreakpoint, ipc.TriggerBreakpoint{Label: label}); err != nil {
		s.pendingPatternLabel = ""
		s.log.Warn("pattern trigger failed", "pattern", p.Pattern, "error", err)
		return
	}
	s.ring.Add("breakpoint", fmt.Sprintf("log pattern %q matched, pausing target", p.Pattern))
}

func (s *Supervisor) resetSettleTimer(tgt *target) {
	s.settleNoted = false
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(s.spec.SettleDelay, func() {
		s.post(event{kind: evSettle, tgt: tgt})
	})
}

func (s *Supervisor) stopSettleTimer() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.settleNoted = false
}

// handleSettle notes a quiet period on an interactive target. A paused
// target is silent for a different reason and gets no note.
func (s *Supervisor) handleSettle(ev event) {
	if ev.tgt != s.currentTarget() || s.getState() != stateRunning || s.settleNoted {
		return
	}
	if s.coord.Active() != nil {
		return
	}
	if c := s.Client(); c != nil && c.IsPaused() {
		return
	}
	s.settleNoted = true
	s.ring.Add("system", "no output recently; target may be waiting for input")
}

func (s *Supervisor) cancelRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// persist fans one lifecycle event out to the configured history sinks.
func (s *Supervisor) persist(t history.EventType, detail string) {
	if len(s.sinks) == 0 {
		return
	}
	ev := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Record: history.Record{
			Target: s.spec.Name,
			PID:    s.TargetPID(),
			State:  s.getState().String(),
			Detail: detail,
		},
	}
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sink.Send(ctx, ev); err != nil {
			s.log.Debug("history send failed", "type", string(t), "error", err)
		}
		cancel()
	}
}

// accessors

func (s *Supervisor) getState() procState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(next procState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	metrics.RecordStateTransition(s.spec.Name, prev.String(), next.String())
	metrics.SetCurrentState(s.spec.Name, prev.String(), false)
	metrics.SetCurrentState(s.spec.Name, next.String(), true)
	s.log.Debug("state transition", "name", s.spec.Name, "from", prev.String(), "to", next.String())
}

func (s *Supervisor) currentTarget() *target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tgt
}

func (s *Supervisor) ipcWriter() *ipc.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ipcW
}

func (s *Supervisor) setLiveID(key breakpoint.Key, id string) {
	s.mu.Lock()
	if s.liveIDs == nil {
		s.liveIDs = make(map[breakpoint.Key]string)
	}
	s.liveIDs[key] = id
	s.mu.Unlock()
}

func (s *Supervisor) setLiveIDs(ids map[breakpoint.Key]string) {
	s.mu.Lock()
	s.liveIDs = ids
	s.mu.Unlock()
}

func (s *Supervisor) liveID(key breakpoint.Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.liveIDs[key]
	return id, ok
}

func (s *Supervisor) takeLiveID(key breakpoint.Key) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.liveIDs[key]
	delete(s.liveIDs, key)
	return id
}

// liveKeyForID maps a session protocol id back to its persisted key.
func (s *Supervisor) liveKeyForID(id string) (breakpoint.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, live := range s.liveIDs {
		if live == id {
			return key, true
		}
	}
	return breakpoint.Key{}, false
}

// post delivers an event unless the loop has already shut down.
func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
