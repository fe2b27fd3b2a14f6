package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// command binds the client-side CLI verbs to an API endpoint.
type command struct{}

func (c *command) connect(f ClientFlags) (*APIClient, error) {
	client := NewAPIClient(f.APIUrl, f.APITimeout)
	if !client.IsReachable() {
		return nil, fmt.Errorf("control plane not reachable at %s - start it first with 'nodetap run'", client.baseURL)
	}
	return client, nil
}

// Status prints the combined target and debug-session view.
func (c *command) Status(f ClientFlags) error {
	client, err := c.connect(f)
	if err != nil {
		return err
	}
	result, err := client.Get("/status")
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Start launches the configured target.
func (c *command) Start(f ClientFlags) error {
	return c.postSimple(f, "/start", nil)
}

// Stop terminates the target.
func (c *command) Stop(f ClientFlags) error {
	return c.postSimple(f, "/stop", nil)
}

// Restart stops and relaunches the target.
func (c *command) Restart(f ClientFlags) error {
	return c.postSimple(f, "/restart", nil)
}

// Logs prints the last n captured log records.
func (c *command) Logs(f ClientFlags, n int) error {
	client, err := c.connect(f)
	if err != nil {
		return err
	}
	result, err := client.Get("/logs?n=" + strconv.Itoa(n))
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Stdin writes one line to the target's standard input.
func (c *command) Stdin(f ClientFlags, line string) error {
	return c.postSimple(f, "/stdin", map[string]any{"line": line})
}

// Resume releases the active pause. returnValue is optional and, when
// set, parsed as JSON first and passed as a plain string otherwise.
func (c *command) Resume(f ClientFlags, returnValue string) error {
	body := map[string]any{}
	if returnValue != "" {
		var v any
		if err := json.Unmarshal([]byte(returnValue), &v); err == nil {
			body["returnValue"] = v
		} else {
			body["returnValue"] = returnValue
		}
	}
	return c.postSimple(f, "/resume", body)
}

// Trigger asks the agent to pause at its next opportunity.
func (c *command) Trigger(f ClientFlags, label string) error {
	return c.postSimple(f, "/trigger", map[string]any{"label": label})
}

// Step issues a protocol step (over, into, out).
func (c *command) Step(f ClientFlags, action string) error {
	return c.postSimple(f, "/step", map[string]any{"action": action})
}

// Eval runs code inside the target and prints the result.
func (c *command) Eval(f EvalFlags) error {
	client, err := c.connect(f.ClientFlags)
	if err != nil {
		return err
	}
	body := map[string]any{"code": f.Code}
	if f.Timeout > 0 {
		body["timeout"] = f.Timeout.String()
	}
	result, err := client.Post("/eval", body)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Globals prints the agent-visible global state keys.
func (c *command) Globals(f ClientFlags) error {
	return c.getAndPrint(f, "/globals")
}

// Prompts drains and prints queued breakpoint prompts.
func (c *command) Prompts(f ClientFlags) error {
	return c.getAndPrint(f, "/prompts")
}

// State prints the last state snapshot reported by the agent.
func (c *command) State(f ClientFlags) error {
	return c.getAndPrint(f, "/state")
}

// Resources prints the sampled CPU/memory history of the target.
func (c *command) Resources(f ClientFlags) error {
	return c.getAndPrint(f, "/resources")
}

// BreakpointSet installs or updates a persisted breakpoint.
func (c *command) BreakpointSet(f BreakpointFlags) error {
	body := map[string]any{
		"file":      f.File,
		"line":      f.Line,
		"condition": f.Condition,
	}
	if f.Prompt != "" {
		body["prompt"] = f.Prompt
		body["promptEnabled"] = true
	}
	client, err := c.connect(f.ClientFlags)
	if err != nil {
		return err
	}
	result, err := client.Post("/breakpoints", body)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// BreakpointList prints all persisted breakpoints.
func (c *command) BreakpointList(f ClientFlags) error {
	return c.getAndPrint(f, "/breakpoints")
}

// BreakpointRemove deletes a breakpoint by identity.
func (c *command) BreakpointRemove(f BreakpointFlags) error {
	client, err := c.connect(f.ClientFlags)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("file", f.File)
	q.Set("line", strconv.Itoa(f.Line))
	if f.Condition != "" {
		q.Set("condition", f.Condition)
	}
	_, err = client.Delete("/breakpoints?" + q.Encode())
	return err
}

// BreakpointEnable flips a breakpoint without losing its hit count.
func (c *command) BreakpointEnable(f BreakpointFlags) error {
	return c.postSimple(f.ClientFlags, "/breakpoints/enable", map[string]any{
		"file":      f.File,
		"line":      f.Line,
		"condition": f.Condition,
		"enabled":   f.Enabled,
	})
}

// PatternAdd registers a log-pattern breakpoint.
func (c *command) PatternAdd(f PatternFlags) error {
	return c.postSimple(f.ClientFlags, "/patterns", map[string]any{
		"pattern": f.Pattern,
		"label":   f.Label,
	})
}

// PatternList prints registered patterns.
func (c *command) PatternList(f ClientFlags) error {
	return c.getAndPrint(f, "/patterns")
}

// PatternRemove drops a pattern.
func (c *command) PatternRemove(f PatternFlags) error {
	client, err := c.connect(f.ClientFlags)
	if err != nil {
		return err
	}
	_, err = client.Delete("/patterns?pattern=" + url.QueryEscape(f.Pattern))
	return err
}

// PatternEnable flips a pattern.
func (c *command) PatternEnable(f PatternFlags) error {
	return c.postSimple(f.ClientFlags, "/patterns/enable", map[string]any{
		"pattern": f.Pattern,
		"enabled": f.Enabled,
	})
}

func (c *command) postSimple(f ClientFlags, path string, body any) error {
	client, err := c.connect(f)
	if err != nil {
		return err
	}
	_, err = client.Post(path, body)
	return err
}

func (c *command) getAndPrint(f ClientFlags, path string) error {
	client, err := c.connect(f)
	if err != nil {
		return err
	}
	result, err := client.Get(path)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(data))
}
