package supervisor

import (
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nodetap/nodetap/internal/logger"
)

// Default timings. Restart backoff and the interactive settle delay are
// fixed, not adaptive.
const (
	DefaultRestartBackoff = 2 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultSettleDelay    = 1 * time.Second
	DefaultWatchDebounce  = 400 * time.Millisecond
)

// defaultWatchExtensions are the source extensions a change watch reacts
// to when none are configured.
var defaultWatchExtensions = []string{".js", ".mjs", ".cjs", ".ts", ".json", ".go"}

// WatchConfig controls file-watch-triggered restarts.
type WatchConfig struct {
	Paths      []string      `json:"paths" mapstructure:"paths"`
	Debounce   time.Duration `json:"debounce" mapstructure:"debounce"`
	Extensions []string      `json:"extensions" mapstructure:"extensions"`
}

// Spec describes the target to supervise and how to instrument it.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // runtime executable, e.g. "node"
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`

	Interactive bool `json:"interactive" mapstructure:"interactive"` // pipe stdin, detect input waits
	Inject      bool `json:"inject" mapstructure:"inject"`           // hand the target a message channel
	Eval        bool `json:"eval" mapstructure:"eval"`               // allow ad hoc evaluation in the target
	Debug       bool `json:"debug" mapstructure:"debug"`             // start suspended with a debug endpoint

	// DebugHost is the listen address for the ephemeral inspector
	// endpoint. Port 0 asks the runtime for an ephemeral port.
	DebugHost string `json:"debug_host" mapstructure:"debug_host"`

	AutoRestart    bool          `json:"auto_restart" mapstructure:"auto_restart"`
	RestartBackoff time.Duration `json:"restart_backoff" mapstructure:"restart_backoff"`
	StopTimeout    time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	SettleDelay    time.Duration `json:"settle_delay" mapstructure:"settle_delay"`

	Watch WatchConfig    `json:"watch" mapstructure:"watch"`
	Log   logger.Capture `json:"log" mapstructure:"log"`
}

// normalized returns a copy with defaults applied.
func (s Spec) normalized() Spec {
	if s.Name == "" && s.Command != "" {
		s.Name = filepath.Base(s.Command)
	}
	if s.DebugHost == "" {
		s.DebugHost = "127.0.0.1:0"
	}
	if s.RestartBackoff <= 0 {
		s.RestartBackoff = DefaultRestartBackoff
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.SettleDelay <= 0 {
		s.SettleDelay = DefaultSettleDelay
	}
	if s.Watch.Debounce <= 0 {
		s.Watch.Debounce = DefaultWatchDebounce
	}
	if len(s.Watch.Extensions) == 0 {
		s.Watch.Extensions = defaultWatchExtensions
	}
	return s
}

// buildCommand constructs the launch command. When protocol debugging is
// requested the "start suspended, expose a debug endpoint" flag is
// prefixed to the argument vector so the runtime halts before user code.
func (s Spec) buildCommand() *exec.Cmd {
	args := s.Args
	if s.Debug {
		args = append([]string{"--inspect-brk=" + s.DebugHost}, args...)
	}
	// #nosec G204 -- the command is operator-supplied configuration
	cmd := exec.Command(s.Command, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}
