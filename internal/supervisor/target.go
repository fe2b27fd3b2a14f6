package supervisor

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Status is a point-in-time view of the supervised target.
type Status struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Running        bool      `json:"running"`
	PID            int       `json:"pid,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	StoppedAt      time.Time `json:"stoppedAt,omitempty"`
	Restarts       int       `json:"restarts"`
	ExitCode       int       `json:"exitCode,omitempty"`
	ExitErr        string    `json:"exitErr,omitempty"`
	DebugEndpoint  string    `json:"debugEndpoint,omitempty"`
	AgentPID       int       `json:"agentPid,omitempty"`
	RuntimeVersion string    `json:"runtimeVersion,omitempty"`
	Paused         bool      `json:"paused"`
}

// target is the OS-process handle for one run of the command. A fresh
// target is created per start; the logical identity (name, restart
// count, persisted breakpoints) lives above it in the Supervisor.
type target struct {
	mu sync.Mutex

	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitCode  int
	exitErr   error
	exited    bool

	stopRequested bool
	waitDone      chan struct{}

	stdin   io.WriteCloser
	ipcFile *os.File // parent end of the message channel, nil without injection

	endpoint       string
	agentPID       int
	runtimeVersion string

	// rotating file writers for mirrored output, either may be nil
	outFile io.WriteCloser
	errFile io.WriteCloser
}

func newTarget() *target {
	return &target{waitDone: make(chan struct{})}
}

func (t *target) setStarted(cmd *exec.Cmd) {
	t.mu.Lock()
	t.cmd = cmd
	t.pid = cmd.Process.Pid
	t.startedAt = time.Now()
	t.mu.Unlock()
}

func (t *target) markExited(code int, err error) {
	t.mu.Lock()
	t.exited = true
	t.exitCode = code
	t.exitErr = err
	t.stoppedAt = time.Now()
	t.mu.Unlock()
}

func (t *target) setStopRequested(v bool) {
	t.mu.Lock()
	t.stopRequested = v
	t.mu.Unlock()
}

func (t *target) isStopRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopRequested
}

func (t *target) setEndpoint(url string) {
	t.mu.Lock()
	t.endpoint = url
	t.mu.Unlock()
}

func (t *target) getEndpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

func (t *target) setAgentInfo(pid int, version string) {
	t.mu.Lock()
	t.agentPID = pid
	t.runtimeVersion = version
	t.mu.Unlock()
}

func (t *target) getPID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited {
		return 0
	}
	return t.pid
}

// snapshot fills the process-level fields of a Status.
func (t *target) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		PID:            t.pid,
		StartedAt:      t.startedAt,
		StoppedAt:      t.stoppedAt,
		ExitCode:       t.exitCode,
		DebugEndpoint:  t.endpoint,
		AgentPID:       t.agentPID,
		RuntimeVersion: t.runtimeVersion,
		Running:        t.pid != 0 && !t.exited,
	}
	if t.exitErr != nil {
		st.ExitErr = t.exitErr.Error()
	}
	return st
}

// closeWaitDone signals that cmd.Wait returned. Safe to call once only;
// the wait goroutine is the sole caller.
func (t *target) closeWaitDone() {
	close(t.waitDone)
}

// writeStdin forwards one line to the target's stdin.
func (t *target) writeStdin(line string) error {
	t.mu.Lock()
	w := t.stdin
	t.mu.Unlock()
	if w == nil {
		return ErrNotRunning
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

// closeFiles releases the channel fd and the rotating log writers.
// Called exactly once, after exit.
func (t *target) closeFiles() {
	t.mu.Lock()
	ipcFile, outFile, errFile, stdin := t.ipcFile, t.outFile, t.errFile, t.stdin
	t.ipcFile, t.outFile, t.errFile, t.stdin = nil, nil, nil, nil
	t.mu.Unlock()
	if ipcFile != nil {
		_ = ipcFile.Close()
	}
	if outFile != nil {
		_ = outFile.Close()
	}
	if errFile != nil {
		_ = errFile.Close()
	}
	if stdin != nil {
		_ = stdin.Close()
	}
}

// terminate asks the whole process group to exit, escalating to a hard
// kill after the grace period. Returns once the process has been reaped
// or the escalation wait also expires.
func (t *target) terminate(grace time.Duration) {
	t.mu.Lock()
	cmd := t.cmd
	exited := t.exited
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil || exited {
		return
	}

	signalGroup(cmd, false)
	select {
	case <-t.waitDone:
		return
	case <-time.After(grace):
	}

	signalGroup(cmd, true)
	select {
	case <-t.waitDone:
	case <-time.After(2 * time.Second):
	}
}
