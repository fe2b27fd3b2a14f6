// Package breakpoint coordinates the three ways a target can be paused
// (engine breakpoint, log-pattern match, explicit trigger) behind one
// paused/not-paused model. Persisted breakpoints are keyed by
// (file, line, condition) and survive restarts; the engine-assigned
// protocol id is volatile and rebound on every reconnect.
package breakpoint

import "time"

// Persisted is a breakpoint that outlives the target process.
type Persisted struct {
	ID            string `json:"id,omitempty"` // protocol id, valid for one session only
	File          string `json:"file"`
	Line          int    `json:"line"` // 1-based
	Condition     string `json:"condition,omitempty"`
	Enabled       bool   `json:"enabled"`
	Prompt        string `json:"prompt,omitempty"`
	PromptEnabled bool   `json:"promptEnabled"`
	HitCount      int    `json:"hitCount"`
}

// Key returns the cross-restart identity.
func (p Persisted) Key() Key { return Key{File: p.File, Line: p.Line, Condition: p.Condition} }

// Key identifies a persisted breakpoint independently of protocol ids.
type Key struct {
	File      string
	Line      int
	Condition string
}

// PauseSource tags who suspended the target.
type PauseSource string

const (
	SourceProtocol PauseSource = "protocol" // engine breakpoint or step
	SourcePattern  PauseSource = "pattern"  // log-pattern match
	SourceExplicit PauseSource = "explicit" // Breakpoint() call or TriggerNow
)

// ActivePause is the single current suspension. At most one exists per
// target at any time.
type ActivePause struct {
	ID      string         `json:"id"`
	Source  PauseSource    `json:"source"`
	Label   string         `json:"label,omitempty"`
	Stack   string         `json:"stack,omitempty"`
	Context any            `json:"context,omitempty"`
	State   map[string]any `json:"state,omitempty"`
	Started time.Time      `json:"started"`
}

// Result is the outcome of a coordination command. Failures carry a
// human-readable reason instead of escalating to the controller.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func ok() Result                { return Result{OK: true} }
func fail(reason string) Result { return Result{Reason: reason} }

// Status is the coordination layer's one-call view of the target.
type Status struct {
	Connected   bool         `json:"connected"`
	Paused      bool         `json:"paused"`
	Active      *ActivePause `json:"activePause,omitempty"`
	Breakpoints []Persisted  `json:"breakpoints"`
}

// PromptEntry records that a prompt-carrying breakpoint fired. The queue
// decouples the pause from whoever eventually looks at it.
type PromptEntry struct {
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	Condition string    `json:"condition,omitempty"`
	Label     string    `json:"label,omitempty"`
	Prompt    string    `json:"prompt"`
	Stack     string    `json:"stack,omitempty"`
	Time      time.Time `json:"time"`
}
