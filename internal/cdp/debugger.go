package cdp

import (
	"fmt"
	"sort"
	"strings"
)

// Enable turns on the debugging and runtime domains and disables
// pause-on-uncaught-exception so only explicit breakpoints halt the target.
func (c *Client) Enable() error {
	if err := c.send("Debugger.enable", nil, nil); err != nil {
		return err
	}
	if err := c.send("Runtime.enable", nil, nil); err != nil {
		return err
	}
	return c.send("Debugger.setPauseOnExceptions", map[string]any{"state": "none"}, nil)
}

// RunIfWaiting releases a target started in the suspended state. Called
// after persisted breakpoints have been re-installed.
func (c *Client) RunIfWaiting() error {
	return c.send("Runtime.runIfWaitingForDebugger", nil, nil)
}

// SetBreakpoint installs a breakpoint at file:line (1-based) with an
// optional condition and returns the volatile protocol id plus resolved
// locations. Setting the same file+line again replaces the cache entry.
func (c *Client) SetBreakpoint(file string, line int, condition string) (Breakpoint, error) {
	params := map[string]any{
		"url":        fileURL(file),
		"lineNumber": line - 1, // wire is 0-based
	}
	if condition != "" {
		params["condition"] = condition
	}
	var res setBreakpointResult
	if err := c.send("Debugger.setBreakpointByUrl", params, &res); err != nil {
		return Breakpoint{}, err
	}
	bp := Breakpoint{ID: res.BreakpointID, File: file, Line: line, Condition: condition}
	for _, l := range res.Locations {
		bp.Locations = append(bp.Locations, fromWire(l))
	}
	c.mu.Lock()
	// Drop any prior entry for the same file+line so the cache reflects
	// the net effect, not the history.
	for id, old := range c.breakpoints {
		if old.File == file && old.Line == line && old.Condition == condition && id != bp.ID {
			delete(c.breakpoints, id)
		}
	}
	c.breakpoints[bp.ID] = bp
	c.mu.Unlock()
	return bp, nil
}

// RemoveBreakpoint deletes a breakpoint by protocol id. Removing an
// unknown id is not an error.
func (c *Client) RemoveBreakpoint(id string) error {
	c.mu.Lock()
	_, known := c.breakpoints[id]
	delete(c.breakpoints, id)
	c.mu.Unlock()
	if !known {
		return nil
	}
	return c.send("Debugger.removeBreakpoint", map[string]any{"breakpointId": id}, nil)
}

// ListBreakpoints returns the locally cached set; the runtime is not
// re-queried. Order is stable by file then line.
func (c *Client) ListBreakpoints() []Breakpoint {
	c.mu.Lock()
	out := make([]Breakpoint, 0, len(c.breakpoints))
	for _, bp := range c.breakpoints {
		out = append(out, bp)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Resume always issues the RPC: the cached paused flag may lag real state.
func (c *Client) Resume() error {
	return c.send("Debugger.resume", nil, nil)
}

// Pause requests the runtime halt at the next opportunity.
func (c *Client) Pause() error {
	return c.send("Debugger.pause", nil, nil)
}

// Stepping is a no-op when not paused; callers check IsPaused first and
// these guards keep a stale call from erroring out the session.

func (c *Client) StepOver() error {
	if !c.IsPaused() {
		return nil
	}
	return c.send("Debugger.stepOver", nil, nil)
}

func (c *Client) StepInto() error {
	if !c.IsPaused() {
		return nil
	}
	return c.send("Debugger.stepInto", nil, nil)
}

func (c *Client) StepOut() error {
	if !c.IsPaused() {
		return nil
	}
	return c.send("Debugger.stepOut", nil, nil)
}

// Evaluate runs an expression in a stack frame when paused and a frame id
// is given, otherwise in global scope.
func (c *Client) Evaluate(expression, callFrameID string) (RemoteObject, error) {
	var res evaluateResult
	if callFrameID != "" && c.IsPaused() {
		params := map[string]any{
			"callFrameId":   callFrameID,
			"expression":    expression,
			"returnByValue": true,
		}
		if err := c.send("Debugger.evaluateOnCallFrame", params, &res); err != nil {
			return RemoteObject{}, err
		}
	} else {
		params := map[string]any{
			"expression":    expression,
			"returnByValue": true,
		}
		if err := c.send("Runtime.evaluate", params, &res); err != nil {
			return RemoteObject{}, err
		}
	}
	if res.ExceptionDetails != nil {
		return res.Result, fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	return res.Result, nil
}

// GetCallStack returns the frames captured by the last paused event,
// innermost first, or nil when not paused.
func (c *Client) GetCallStack() []CallFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return nil
	}
	return append([]CallFrame(nil), c.callFrames...)
}

// GetScopeVariables resolves one scope's own properties to
// name/type/value triples.
func (c *Client) GetScopeVariables(callFrameID, scopeType string) ([]Variable, error) {
	c.mu.Lock()
	var objectID string
	for _, f := range c.callFrames {
		if f.ID != callFrameID {
			continue
		}
		for _, s := range f.ScopeChain {
			if s.Type == scopeType {
				objectID = s.ObjectID
				break
			}
		}
	}
	c.mu.Unlock()
	if objectID == "" {
		return nil, fmt.Errorf("cdp: no %s scope on frame %s", scopeType, callFrameID)
	}

	var res getPropertiesResult
	params := map[string]any{"objectId": objectID, "ownProperties": true}
	if err := c.send("Runtime.getProperties", params, &res); err != nil {
		return nil, err
	}
	vars := make([]Variable, 0, len(res.Result))
	for _, p := range res.Result {
		v := Variable{Name: p.Name}
		if p.Value != nil {
			v.Type = p.Value.Type
			v.Value = describeRemote(*p.Value)
		}
		vars = append(vars, v)
	}
	return vars, nil
}

// Scripts returns the scriptId→metadata map built from scriptParsed events.
func (c *Client) Scripts() map[string]Script {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Script, len(c.scripts))
	for k, v := range c.scripts {
		out[k] = v
	}
	return out
}

func describeRemote(obj RemoteObject) string {
	if len(obj.Value) > 0 {
		return strings.TrimSpace(string(obj.Value))
	}
	if obj.Description != "" {
		return obj.Description
	}
	return obj.Type
}

func fileURL(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return "file://" + path
	}
	return "file:///" + path
}
