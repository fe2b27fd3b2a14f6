// Package history exports debug-session lifecycle events to external
// systems for later analysis: when a target started, crashed, paused,
// resumed, or ran an evaluation.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
	EventPause   EventType = "pause"
	EventResume  EventType = "resume"
	EventEval    EventType = "eval"
)

// Record carries the target's identity and the event-specific detail
// (endpoint, breakpoint label, exit code) as free text.
type Record struct {
	Target string `json:"target"`
	PID    int    `json:"pid"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Event is one exported lifecycle event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
