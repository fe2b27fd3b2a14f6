package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/cdp"
	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/ipc"
	"github.com/nodetap/nodetap/internal/metrics"
)

// debugEndpointRe recognizes the runtime's inspector announcement on
// stderr. The URL carries an ephemeral port and a session UUID.
var debugEndpointRe = regexp.MustCompile(`Debugger listening on (ws://\S+)`)

const attachTimeout = 5 * time.Second

// doStart launches one run of the target. Runs on the control loop.
func (s *Supervisor) doStart() error {
	spec := s.spec
	s.setState(stateStarting)

	tgt := newTarget()
	cmd := spec.buildCommand()
	setProcAttrs(cmd)

	env := append(os.Environ(), spec.Env...)
	var parentEnd, childEnd *os.File
	if spec.Inject {
		var err error
		parentEnd, childEnd, err = socketPair()
		if err != nil {
			s.setState(stateStopped)
			return &SpawnError{Err: err}
		}
		env = append(env,
			ipc.EnvAgentEnabled+"=1",
			fmt.Sprintf("%s=%d", ipc.EnvChannelFD, ipc.ChannelFD),
		)
		if spec.Eval {
			env = append(env, ipc.EnvEvalEnabled+"=1")
		}
		cmd.ExtraFiles = []*os.File{childEnd}
	}
	cmd.Env = env

	abort := func(err error) error {
		if parentEnd != nil {
			_ = parentEnd.Close()
		}
		if childEnd != nil {
			_ = childEnd.Close()
		}
		s.setState(stateStopped)
		return &SpawnError{Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return abort(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return abort(err)
	}
	if spec.Interactive {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return abort(err)
		}
		tgt.stdin = stdin
	}

	outFile, errFile := spec.Log.Files(spec.Name)
	tgt.outFile, tgt.errFile = outFile, errFile

	if err := cmd.Start(); err != nil {
		tgt.closeFiles()
		return abort(err)
	}
	// The child inherited its end; only it needs the descriptor now.
	if childEnd != nil {
		_ = childEnd.Close()
	}

	tgt.setStarted(cmd)
	tgt.ipcFile = parentEnd

	s.mu.Lock()
	s.tgt = tgt
	if parentEnd != nil {
		s.ipcW = ipc.NewWriter(parentEnd)
	}
	s.agentState = make(map[string]any)
	s.mu.Unlock()

	if spec.Inject {
		s.coord.BindSession(nil, agentLink{s})
	}

	go s.scanStream(tgt, "stdout", stdout)
	go s.scanStream(tgt, "stderr", stderr)
	if parentEnd != nil {
		go s.readAgent(tgt, parentEnd)
	}
	go s.waitTarget(tgt, cmd)

	s.setState(stateRunning)
	s.ring.Add("system", fmt.Sprintf("target started (pid %d)", cmd.Process.Pid))
	s.log.Info("target started",
		"name", spec.Name, "pid", cmd.Process.Pid,
		"inject", spec.Inject, "debug", spec.Debug)
	metrics.IncStart(spec.Name)
	s.persist(history.EventStart, fmt.Sprintf("pid %d", cmd.Process.Pid))
	if spec.Interactive {
		s.resetSettleTimer(tgt)
	}
	return nil
}

// scanStream pumps one output stream into the control loop line by line.
func (s *Supervisor) scanStream(tgt *target, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		s.post(event{kind: evOutput, tgt: tgt, stream: stream, line: sc.Text()})
	}
}

// readAgent pumps agent envelopes into the control loop until the
// channel closes with the process. An unusable frame is dropped and
// noted; only a real stream error ends the loop.
func (s *Supervisor) readAgent(tgt *target, f *os.File) {
	r := ipc.NewReader(f)
	for {
		env, err := r.Next()
		if errors.Is(err, ipc.ErrBadFrame) {
			cause := err
			s.post(event{kind: evFunc, fn: func() {
				if tgt != s.currentTarget() {
					return
				}
				s.log.Warn("dropped unreadable agent frame", "error", cause)
				s.ring.Add("system", "dropped unreadable agent frame")
			}})
			continue
		}
		if err != nil {
			return
		}
		s.post(event{kind: evIPC, tgt: tgt, env: env})
	}
}

// waitTarget reaps the process and reports its exit to the loop.
func (s *Supervisor) waitTarget(tgt *target, cmd *exec.Cmd) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	tgt.closeWaitDone()
	s.post(event{kind: evExit, tgt: tgt, code: code, err: err})
}

// mirrorLine forwards one captured line to the supervisor's own stdio
// and the rotating log file for that stream.
func (s *Supervisor) mirrorLine(tgt *target, stream, line string) {
	tgt.mu.Lock()
	file := tgt.outFile
	console := io.Writer(os.Stdout)
	if stream == "stderr" {
		file = tgt.errFile
		console = os.Stderr
	}
	tgt.mu.Unlock()
	fmt.Fprintln(console, line)
	if file != nil {
		fmt.Fprintln(file, line)
	}
}

// maybeAttach checks a stderr line for the inspector announcement and
// dials it asynchronously.
func (s *Supervisor) maybeAttach(tgt *target, line string) {
	if s.Client() != nil {
		return
	}
	m := debugEndpointRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	url := m[1]
	tgt.setEndpoint(url)
	s.ring.Add("system", "debug endpoint detected: "+url)
	go s.attachDebugger(url, tgt)
}

// attachDebugger dials the endpoint off the loop and posts the session
// install back onto it.
func (s *Supervisor) attachDebugger(endpoint string, tgt *target) {
	client := cdp.New(s.log)
	if err := client.Connect(endpoint, attachTimeout); err != nil {
		s.post(event{kind: evFunc, fn: func() {
			s.ring.Add("system", "debug attach failed: "+err.Error())
			s.log.Warn("debug attach failed", "endpoint", endpoint, "error", err)
		}})
		return
	}
	s.post(event{kind: evFunc, fn: func() { s.installSession(client, tgt, endpoint) }})
}

// installSession wires a connected client into the supervisor. Runs on
// the control loop; the RPC phase is pushed back off it.
func (s *Supervisor) installSession(client *cdp.Client, tgt *target, endpoint string) {
	if tgt != s.currentTarget() {
		_ = client.Close()
		return
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	client.OnPaused(func(reason string, hitIDs []string) {
		ids := append([]string(nil), hitIDs...)
		s.post(event{kind: evFunc, fn: func() { s.protocolPaused(client, tgt, reason, ids) }})
	})
	client.OnResumed(func() {
		s.post(event{kind: evFunc, fn: func() { s.protocolResumed(client) }})
	})
	client.OnDisconnect(func(cause error) {
		s.post(event{kind: evFunc, fn: func() { s.sessionClosed(client) }})
	})

	var agent breakpoint.AgentChannel
	if s.spec.Inject {
		agent = agentLink{s}
	}
	s.coord.BindSession(client, agent)
	s.ring.Add("system", "debugger attached: "+endpoint)
	s.log.Info("debugger attached", "endpoint", endpoint)

	go s.setupSession(client)
}

// setupSession enables the debugger domains, re-installs the persisted
// breakpoints under their new protocol ids, and only then releases a
// target that started suspended.
func (s *Supervisor) setupSession(client *cdp.Client) {
	if err := client.Enable(); err != nil {
		s.log.Warn("debugger enable failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bps, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("breakpoint listing failed during attach", "error", err)
	} else {
		ids := make(map[breakpoint.Key]string, len(bps))
		for _, bp := range bps {
			if !bp.Enabled {
				continue
			}
			installed, err := client.SetBreakpoint(bp.File, bp.Line, bp.Condition)
			if err != nil {
				s.log.Warn("breakpoint re-install failed",
					"file", bp.File, "line", bp.Line, "error", err)
				continue
			}
			ids[bp.Key()] = installed.ID
		}
		s.setLiveIDs(ids)
		if len(ids) > 0 {
			s.ring.Add("system", fmt.Sprintf("re-installed %d breakpoint(s)", len(ids)))
		}
	}

	if err := client.RunIfWaiting(); err != nil {
		s.log.Warn("release of suspended target failed", "error", err)
	}
}

// protocolPaused records an engine pause announced by the session.
func (s *Supervisor) protocolPaused(client *cdp.Client, tgt *target, reason string, hitIDs []string) {
	if client != s.Client() || tgt != s.currentTarget() {
		return
	}
	stack := formatStack(client.GetCallStack())
	pause := breakpoint.ActivePause{Source: breakpoint.SourceProtocol, Label: reason, Stack: stack}
	if len(hitIDs) > 0 {
		if key, ok := s.liveKeyForID(hitIDs[0]); ok {
			pause.Label = fmt.Sprintf("%s:%d", key.File, key.Line)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.coord.RecordHit(ctx, key, stack)
			cancel()
		}
	}
	if !s.coord.PauseBegan(pause) {
		return
	}
	metrics.IncPause(s.spec.Name, string(breakpoint.SourceProtocol))
	s.ring.Add("breakpoint", "target paused ("+pause.Label+")")
	s.persist(history.EventPause, pause.Label)
}

// protocolResumed clears an engine pause after the session's resumed
// event, the only authority on the running/paused toggle.
func (s *Supervisor) protocolResumed(client *cdp.Client) {
	if client != s.Client() {
		return
	}
	if a := s.coord.Active(); a != nil && a.Source == breakpoint.SourceProtocol {
		s.coord.PauseEnded()
		metrics.IncResume(s.spec.Name)
		s.ring.Add("breakpoint", "target resumed")
		s.persist(history.EventResume, "protocol")
		// An agent hit that arrived during the engine pause now takes
		// the freed slot.
		s.promoteDeferredHit()
	}
}

// sessionClosed detaches a dead session. The agent channel, when
// present, outlives the debug session.
func (s *Supervisor) sessionClosed(client *cdp.Client) {
	if client != s.Client() {
		return
	}
	s.mu.Lock()
	s.client = nil
	s.liveIDs = nil
	s.mu.Unlock()
	var agent breakpoint.AgentChannel
	if s.spec.Inject {
		agent = agentLink{s}
	}
	s.coord.BindSession(nil, agent)
	s.ring.Add("system", "debugger session closed")
	s.log.Info("debugger session closed")
}

// agentLink adapts the supervisor's message channel to the coordinator.
// It resolves the writer per call so a restart swaps channels cleanly.
type agentLink struct{ s *Supervisor }

func (l agentLink) ResumeBreakpoint(returnValue any) error {
	w := l.s.ipcWriter()
	if w == nil {
		return ErrNotRunning
	}
	return w.Send(ipc.TypeResumeBreakpoint, ipc.ResumeBreakpoint{ReturnValue: returnValue})
}

func (l agentLink) TriggerBreakpoint(label string) error {
	w := l.s.ipcWriter()
	if w == nil {
		return ErrNotRunning
	}
	return w.Send(ipc.TypeTriggerBreakpoint, ipc.TriggerBreakpoint{Label: label})
}

func formatStack(frames []cdp.CallFrame) string {
	if len(frames) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range frames {
		name := f.FunctionName
		if name == "" {
			name = "(anonymous)"
		}
		fmt.Fprintf(&b, "%s (%s:%d)\n", name, f.URL, f.Location.Line)
	}
	return strings.TrimRight(b.String(), "\n")
}
