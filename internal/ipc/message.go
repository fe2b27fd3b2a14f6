// Package ipc defines the message schema spoken between the supervisor and
// the in-process agent over the extra pipe handed to the target at launch.
// One JSON object per line, discriminated by "type". The union is closed:
// consumers switch over Type and treat anything else as a protocol error.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the message union.
type Type string

const (
	TypeReady             Type = "ready"
	TypeLog               Type = "log"
	TypeError             Type = "error"
	TypeState             Type = "state"
	TypeStateRequest      Type = "stateRequest"
	TypeStateResponse     Type = "stateResponse"
	TypeEvent             Type = "event"
	TypeSpan              Type = "span"
	TypeDiagnostic        Type = "diagnostic"
	TypePerf              Type = "perf"
	TypeEvalRequest       Type = "evalRequest"
	TypeEvalResponse      Type = "evalResponse"
	TypeGlobalsRequest    Type = "globalsRequest"
	TypeGlobalsResponse   Type = "globalsResponse"
	TypeBreakpointHit     Type = "breakpointHit"
	TypeResumeBreakpoint  Type = "resumeBreakpoint"
	TypeBreakpointResumed Type = "breakpointResumed"
	TypeTriggerBreakpoint Type = "triggerBreakpoint"
)

// Envelope is the wire framing: a type tag plus the variant payload.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ready is sent once by the agent after activation.
type Ready struct {
	PID            int    `json:"pid"`
	RuntimeVersion string `json:"runtimeVersion"`
}

// Log carries a leveled log line captured inside the target.
type Log struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Error reports a target-side fault. Kind distinguishes fatal
// uncaught errors from reported-but-survivable ones.
type Error struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// State mirrors one key of the agent's state surface to the parent.
type State struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// StateResponse answers an explicit state refresh request.
type StateResponse struct {
	State map[string]any `json:"state"`
}

// Event is an application-defined custom event.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Span reports the start or end of a named operation inside the target.
type Span struct {
	Name       string  `json:"name"`
	Phase      string  `json:"phase"` // "start" or "end"
	DurationMs float64 `json:"duration,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Diagnostic forwards a runtime diagnostic-channel sample.
type Diagnostic struct {
	Channel string `json:"channel"`
	Detail  any    `json:"detail,omitempty"`
}

// Perf forwards a runtime performance sample (GC pause, scheduler latency).
type Perf struct {
	Kind    string             `json:"kind"`
	Metrics map[string]float64 `json:"metrics"`
}

// EvalRequest asks the agent to run code; ID correlates the response.
type EvalRequest struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// EvalResponse completes a matching EvalRequest exactly once.
type EvalResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GlobalsResponse lists the agent's state keys.
type GlobalsResponse struct {
	Names []string `json:"names"`
}

// BreakpointHit announces that the target suspended itself in Breakpoint().
type BreakpointHit struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Context any            `json:"context,omitempty"`
	Stack   string         `json:"stack"`
	State   map[string]any `json:"state,omitempty"`
}

// ResumeBreakpoint releases the pending Breakpoint() call, optionally
// handing it a return value.
type ResumeBreakpoint struct {
	ReturnValue any `json:"returnValue,omitempty"`
}

// BreakpointResumed confirms the release and how long the target was held.
type BreakpointResumed struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	PauseDurationMs int64  `json:"pauseDurationMs"`
}

// TriggerBreakpoint asks the agent to enter an explicit pause at its next
// opportunity.
type TriggerBreakpoint struct {
	Label string `json:"label"`
}

// Marshal wraps a payload in an envelope and encodes it as a single line.
func Marshal(t Type, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	return append(b, '\n'), nil
}

// Decode parses the payload into its concrete variant. Unknown types
// return an error so routers can drop them without guessing at fields.
func (e Envelope) Decode() (any, error) {
	var dst any
	switch e.Type {
	case TypeReady:
		dst = &Ready{}
	case TypeLog:
		dst = &Log{}
	case TypeError:
		dst = &Error{}
	case TypeState:
		dst = &State{}
	case TypeStateResponse:
		dst = &StateResponse{}
	case TypeEvent:
		dst = &Event{}
	case TypeSpan:
		dst = &Span{}
	case TypeDiagnostic:
		dst = &Diagnostic{}
	case TypePerf:
		dst = &Perf{}
	case TypeEvalRequest:
		dst = &EvalRequest{}
	case TypeEvalResponse:
		dst = &EvalResponse{}
	case TypeStateRequest, TypeGlobalsRequest:
		return &struct{}{}, nil
	case TypeGlobalsResponse:
		dst = &GlobalsResponse{}
	case TypeBreakpointHit:
		dst = &BreakpointHit{}
	case TypeResumeBreakpoint:
		dst = &ResumeBreakpoint{}
	case TypeBreakpointResumed:
		dst = &BreakpointResumed{}
	case TypeTriggerBreakpoint:
		dst = &TriggerBreakpoint{}
	default:
		return nil, fmt.Errorf("ipc: unknown message type %q", e.Type)
	}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, dst); err != nil {
			return nil, fmt.Errorf("ipc: decode %s payload: %w", e.Type, err)
		}
	}
	return dst, nil
}

// Parse decodes one wire line into an envelope.
func Parse(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("ipc: envelope missing type")
	}
	return env, nil
}
