// Package cdp implements the remote-debugging wire protocol client: one
// persistent WebSocket connection to a single runtime instance, with
// request/response correlation and unsolicited event dispatch.
package cdp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState tracks the connection lifecycle. The running/paused toggle
// lives separately and changes only on paused/resumed events.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultCallTimeout bounds a single RPC round trip.
const DefaultCallTimeout = 10 * time.Second

type pendingCall struct {
	method string
	done   chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client speaks the wire protocol over one persistent connection.
// All exported methods are safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	paused   bool
	nextID   int64
	pending  map[int64]*pendingCall
	handlers map[string][]func(json.RawMessage)
	onClose  func(error)
	onPaused func(reason string, hitBreakpointIDs []string)
	onResume func()

	// session caches, rebuilt per connection
	scripts     map[string]Script
	breakpoints map[string]Breakpoint
	callFrames  []CallFrame

	callTimeout time.Duration
	log         *slog.Logger
}

// New creates a disconnected client.
func New(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		state:       StateDisconnected,
		pending:     make(map[int64]*pendingCall),
		handlers:    make(map[string][]func(json.RawMessage)),
		scripts:     make(map[string]Script),
		breakpoints: make(map[string]Breakpoint),
		callTimeout: DefaultCallTimeout,
		log:         log,
	}
	c.registerSessionHandlers()
	return c
}

// OnDisconnect sets a callback invoked once when the transport closes.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// OnPaused sets a callback invoked after each paused event, once the
// session caches are updated. Runs on the read loop; keep it short.
func (c *Client) OnPaused(fn func(reason string, hitBreakpointIDs []string)) {
	c.mu.Lock()
	c.onPaused = fn
	c.mu.Unlock()
}

// OnResumed sets a callback invoked after each resumed event.
func (c *Client) OnResumed(fn func()) {
	c.mu.Lock()
	c.onResume = fn
	c.mu.Unlock()
}

// Connect dials the inspector endpoint. Fails with ConnectError on
// timeout or refusal.
func (c *Client) Connect(endpoint string, timeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("cdp: already %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return &ConnectError{Endpoint: endpoint, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.paused = false
	c.scripts = make(map[string]Script)
	c.breakpoints = make(map[string]Breakpoint)
	c.callFrames = nil
	c.mu.Unlock()

	go c.readLoop(conn)
	c.log.Debug("cdp connected", "endpoint", endpoint)
	return nil
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsPaused reports the cached paused flag. It lags real state by at most
// one event; Resume deliberately ignores it.
func (c *Client) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// On registers an event handler for an unsolicited method. Handlers run
// on the read loop goroutine; keep them short.
func (c *Client) On(method string, fn func(params json.RawMessage)) {
	c.mu.Lock()
	c.handlers[method] = append(c.handlers[method], fn)
	c.mu.Unlock()
}

// Send issues one request and waits for its correlated response.
func (c *Client) Send(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, &DisconnectError{}
	}
	c.nextID++
	id := c.nextID
	call := &pendingCall{method: method, done: make(chan callResult, 1)}
	c.pending[id] = call
	conn := c.conn
	timeout := c.callTimeout
	c.mu.Unlock()

	req := request{ID: id, Method: method, Params: params}
	if err := c.writeJSON(conn, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &DisconnectError{Err: err}
	}

	select {
	case res := <-call.done:
		return res.result, res.err
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &ProtocolError{Method: method, Message: "response timeout"}
	}
}

// send is Send with the result unmarshalled into out (out may be nil).
func (c *Client) send(method string, params, out any) error {
	raw, err := c.Send(method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProtocolError{Method: method, Message: fmt.Sprintf("malformed result: %v", err)}
	}
	return nil
}

// Close tears down the connection. Pending calls are rejected by the
// read loop noticing the close.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	// gorilla/websocket allows one concurrent writer only.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var closeErr error
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			closeErr = err
			break
		}
		if msg.ID != 0 {
			c.dispatchResponse(msg)
		} else if msg.Method != "" {
			c.dispatchEvent(msg)
		}
	}
	c.teardown(closeErr)
}

func (c *Client) dispatchResponse(msg message) {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		// Late response after timeout; drop it.
		return
	}
	if msg.Error != nil {
		call.done <- callResult{err: &ProtocolError{Method: call.method, Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	call.done <- callResult{result: msg.Result}
}

func (c *Client) dispatchEvent(msg message) {
	c.mu.Lock()
	fns := append(([]func(json.RawMessage))(nil), c.handlers[msg.Method]...)
	c.mu.Unlock()
	// Unknown methods have no handlers and are ignored, not fatal.
	for _, fn := range fns {
		fn(msg.Params)
	}
}

// teardown moves to disconnected and rejects every pending call en masse.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.paused = false
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	derr := &DisconnectError{Err: cause}
	for _, call := range pending {
		call.done <- callResult{err: derr}
	}
	if onClose != nil {
		onClose(cause)
	}
	c.log.Debug("cdp disconnected", "cause", cause)
}

// registerSessionHandlers wires the events that maintain session caches.
// The paused flag changes only here, never from RPC acknowledgements.
func (c *Client) registerSessionHandlers() {
	c.On("Debugger.paused", func(params json.RawMessage) {
		var ev pausedEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			c.log.Warn("cdp: bad paused event", "error", err)
			return
		}
		frames := make([]CallFrame, 0, len(ev.CallFrames))
		for _, wf := range ev.CallFrames {
			cf := CallFrame{
				ID:           wf.CallFrameID,
				FunctionName: wf.FunctionName,
				URL:          wf.URL,
				Location:     fromWire(wf.Location),
			}
			for _, sc := range wf.ScopeChain {
				cf.ScopeChain = append(cf.ScopeChain, Scope{Type: sc.Type, ObjectID: sc.Object.ObjectID})
			}
			frames = append(frames, cf)
		}
		c.mu.Lock()
		c.paused = true
		c.callFrames = frames
		fn := c.onPaused
		c.mu.Unlock()
		if fn != nil {
			fn(ev.Reason, ev.HitBreakpoints)
		}
	})
	c.On("Debugger.resumed", func(json.RawMessage) {
		c.mu.Lock()
		c.paused = false
		c.callFrames = nil
		fn := c.onResume
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	c.On("Debugger.scriptParsed", func(params json.RawMessage) {
		var ev scriptParsedEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		c.mu.Lock()
		c.scripts[ev.ScriptID] = Script{ScriptID: ev.ScriptID, URL: ev.URL}
		c.mu.Unlock()
	})
	c.On("Debugger.breakpointResolved", func(params json.RawMessage) {
		var ev breakpointResolvedEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		c.mu.Lock()
		if bp, ok := c.breakpoints[ev.BreakpointID]; ok {
			bp.Locations = append(bp.Locations, fromWire(ev.Location))
			c.breakpoints[ev.BreakpointID] = bp
		}
		c.mu.Unlock()
	})
}
