package cdp

import "encoding/json"

// Wire framing. Requests carry an id; events from the runtime do not.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type message struct {
	ID     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireLocation is a protocol location: 0-based lines and columns.
type wireLocation struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// Location is the boundary form: 1-based line numbers.
type Location struct {
	ScriptID string `json:"scriptId"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func fromWire(l wireLocation) Location {
	return Location{ScriptID: l.ScriptID, Line: l.LineNumber + 1, Column: l.ColumnNumber}
}

// Scope is one entry of a frame's scope chain; ObjectID resolves its
// properties via Runtime.getProperties.
type Scope struct {
	Type     string `json:"type"`
	ObjectID string `json:"objectId"`
}

// CallFrame is one stack frame, innermost first in a stack listing.
type CallFrame struct {
	ID           string   `json:"callFrameId"`
	FunctionName string   `json:"functionName"`
	URL          string   `json:"url"`
	Location     Location `json:"location"`
	ScopeChain   []Scope  `json:"scopeChain"`
}

// Variable is one resolved scope property.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Script is the metadata the runtime reports for a parsed script.
type Script struct {
	ScriptID string `json:"scriptId"`
	URL      string `json:"url"`
}

// Breakpoint is a live protocol breakpoint tracked in the local cache.
// The ID is volatile: it does not survive a reconnect.
type Breakpoint struct {
	ID        string     `json:"id"`
	File      string     `json:"file"`
	Line      int        `json:"line"` // 1-based
	Condition string     `json:"condition,omitempty"`
	Locations []Location `json:"locations,omitempty"`
}

// RemoteObject is the runtime's value representation from evaluate calls.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
}

// Raw protocol payloads used by debugger.go.

type wireCallFrame struct {
	CallFrameID  string       `json:"callFrameId"`
	FunctionName string       `json:"functionName"`
	URL          string       `json:"url"`
	Location     wireLocation `json:"location"`
	ScopeChain   []struct {
		Type   string `json:"type"`
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	} `json:"scopeChain"`
}

type pausedEvent struct {
	Reason         string          `json:"reason"`
	CallFrames     []wireCallFrame `json:"callFrames"`
	HitBreakpoints []string        `json:"hitBreakpoints,omitempty"`
}

type scriptParsedEvent struct {
	ScriptID string `json:"scriptId"`
	URL      string `json:"url"`
}

type breakpointResolvedEvent struct {
	BreakpointID string       `json:"breakpointId"`
	Location     wireLocation `json:"location"`
}

type setBreakpointResult struct {
	BreakpointID string         `json:"breakpointId"`
	Locations    []wireLocation `json:"locations"`
}

type evaluateResult struct {
	Result           RemoteObject `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

type getPropertiesResult struct {
	Result []struct {
		Name  string        `json:"name"`
		Value *RemoteObject `json:"value"`
	} `json:"result"`
}
