package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInspector is a minimal in-process inspector endpoint. It answers
// every request with an empty result unless a method-specific responder
// is installed, and can push unsolicited events.
type fakeInspector struct {
	t  *testing.T
	mu sync.Mutex

	srv        *httptest.Server
	conn       *websocket.Conn
	connected  chan struct{}
	responders map[string]func(id int64, params json.RawMessage) message
	requests   []string
}

func newFakeInspector(t *testing.T) *fakeInspector {
	f := &fakeInspector{
		t:          t,
		connected:  make(chan struct{}),
		responders: make(map[string]func(int64, json.RawMessage) message),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connected)
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.requests = append(f.requests, req.Method)
			responder := f.responders[req.Method]
			f.mu.Unlock()

			var resp message
			if responder != nil {
				var raw json.RawMessage
				if req.Params != nil {
					raw, _ = json.Marshal(req.Params)
				}
				resp = responder(req.ID, raw)
			} else {
				resp = message{ID: req.ID, Result: json.RawMessage(`{}`)}
			}
			f.mu.Lock()
			_ = conn.WriteJSON(resp)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInspector) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeInspector) respond(method string, fn func(id int64, params json.RawMessage) message) {
	f.mu.Lock()
	f.responders[method] = fn
	f.mu.Unlock()
}

func (f *fakeInspector) emit(method string, params any) {
	raw, err := json.Marshal(params)
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(f.t, f.conn)
	require.NoError(f.t, f.conn.WriteJSON(map[string]any{"method": method, "params": json.RawMessage(raw)}))
}

func (f *fakeInspector) seen(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.requests {
		if m == method {
			return true
		}
	}
	return false
}

func connectedClient(t *testing.T, f *fakeInspector) *Client {
	c := New(nil)
	require.NoError(t, c.Connect(f.url(), 2*time.Second))
	<-f.connected
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectRefused(t *testing.T) {
	c := New(nil)
	err := c.Connect("ws://127.0.0.1:1/json", 500*time.Millisecond)
	require.Error(t, err)
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestEnableDisablesPauseOnExceptions(t *testing.T) {
	f := newFakeInspector(t)
	var gotState string
	f.respond("Debugger.setPauseOnExceptions", func(id int64, params json.RawMessage) message {
		var p struct {
			State string `json:"state"`
		}
		_ = json.Unmarshal(params, &p)
		gotState = p.State
		return message{ID: id, Result: json.RawMessage(`{}`)}
	})

	c := connectedClient(t, f)
	require.NoError(t, c.Enable())
	assert.True(t, f.seen("Debugger.enable"))
	assert.True(t, f.seen("Runtime.enable"))
	assert.Equal(t, "none", gotState)
}

func TestBreakpointCacheReflectsNetEffect(t *testing.T) {
	f := newFakeInspector(t)
	n := 0
	f.respond("Debugger.setBreakpointByUrl", func(id int64, params json.RawMessage) message {
		n++
		res, _ := json.Marshal(setBreakpointResult{
			BreakpointID: "bp-" + strings.Repeat("x", n),
			Locations:    []wireLocation{{ScriptID: "s1", LineNumber: 9}},
		})
		return message{ID: id, Result: res}
	})

	c := connectedClient(t, f)

	bp1, err := c.SetBreakpoint("/app/app.js", 10, "")
	require.NoError(t, err)
	require.Len(t, bp1.Locations, 1)
	assert.Equal(t, 10, bp1.Locations[0].Line, "wire 0-based line converted to 1-based")

	// Same file+line replaces, no duplicate.
	bp2, err := c.SetBreakpoint("/app/app.js", 10, "")
	require.NoError(t, err)
	assert.NotEqual(t, bp1.ID, bp2.ID)
	require.Len(t, c.ListBreakpoints(), 1)

	_, err = c.SetBreakpoint("/app/other.js", 3, "x > 1")
	require.NoError(t, err)
	require.Len(t, c.ListBreakpoints(), 2)

	require.NoError(t, c.RemoveBreakpoint(bp2.ID))
	require.Len(t, c.ListBreakpoints(), 1)

	// Removal is idempotent and does not hit the wire twice.
	require.NoError(t, c.RemoveBreakpoint(bp2.ID))
	require.Len(t, c.ListBreakpoints(), 1)
}

func TestPausedEventUpdatesStateAndStack(t *testing.T) {
	f := newFakeInspector(t)
	c := connectedClient(t, f)

	assert.False(t, c.IsPaused())
	assert.Nil(t, c.GetCallStack())

	f.emit("Debugger.paused", pausedEvent{
		Reason: "other",
		CallFrames: []wireCallFrame{
			{
				CallFrameID:  "frame-0",
				FunctionName: "handleRequest",
				URL:          "file:///app/app.js",
				Location:     wireLocation{ScriptID: "s1", LineNumber: 41},
			},
		},
	})

	require.Eventually(t, c.IsPaused, time.Second, 5*time.Millisecond)
	stack := c.GetCallStack()
	require.Len(t, stack, 1)
	assert.Equal(t, "handleRequest", stack[0].FunctionName)
	assert.Equal(t, 42, stack[0].Location.Line)

	f.emit("Debugger.resumed", struct{}{})
	require.Eventually(t, func() bool { return !c.IsPaused() }, time.Second, 5*time.Millisecond)
	assert.Nil(t, c.GetCallStack())
}

func TestSteppingNoopWhenNotPaused(t *testing.T) {
	f := newFakeInspector(t)
	c := connectedClient(t, f)

	require.NoError(t, c.StepOver())
	require.NoError(t, c.StepInto())
	require.NoError(t, c.StepOut())
	assert.False(t, f.seen("Debugger.stepOver"))
	assert.False(t, f.seen("Debugger.stepInto"))
	assert.False(t, f.seen("Debugger.stepOut"))

	// Resume goes out regardless of the cached flag.
	require.NoError(t, c.Resume())
	assert.True(t, f.seen("Debugger.resume"))
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newFakeInspector(t)
	c := connectedClient(t, f)

	f.emit("Network.requestWillBeSent", map[string]any{"requestId": "1"})

	// Connection stays healthy afterwards.
	require.NoError(t, c.Resume())
	assert.Equal(t, StateConnected, c.State())
}

func TestDisconnectRejectsPending(t *testing.T) {
	f := newFakeInspector(t)
	// Swallow the request so it stays pending, then drop the connection.
	f.respond("Debugger.pause", func(id int64, params json.RawMessage) message {
		go func() {
			time.Sleep(20 * time.Millisecond)
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			_ = conn.Close()
		}()
		// Never answered: return a response for a different id so the
		// pending entry is not resolved.
		return message{ID: -1, Result: json.RawMessage(`{}`)}
	})

	c := connectedClient(t, f)
	_, err := c.Send("Debugger.pause", nil)
	require.Error(t, err)
	var de *DisconnectError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestScriptParsedPopulatesCache(t *testing.T) {
	f := newFakeInspector(t)
	c := connectedClient(t, f)

	f.emit("Debugger.scriptParsed", scriptParsedEvent{ScriptID: "77", URL: "file:///app/app.js"})
	require.Eventually(t, func() bool {
		_, ok := c.Scripts()["77"]
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "file:///app/app.js", c.Scripts()["77"].URL)
}

func TestEvaluateGlobal(t *testing.T) {
	f := newFakeInspector(t)
	f.respond("Runtime.evaluate", func(id int64, params json.RawMessage) message {
		res, _ := json.Marshal(evaluateResult{Result: RemoteObject{Type: "number", Value: json.RawMessage(`3`)}})
		return message{ID: id, Result: res}
	})

	c := connectedClient(t, f)
	obj, err := c.Evaluate("1+2", "")
	require.NoError(t, err)
	assert.Equal(t, "number", obj.Type)
	assert.Equal(t, "3", string(obj.Value))
}

func TestProtocolErrorKeepsConnection(t *testing.T) {
	f := newFakeInspector(t)
	f.respond("Debugger.pause", func(id int64, params json.RawMessage) message {
		return message{ID: id, Error: &rpcError{Code: -32000, Message: "not allowed"}}
	})

	c := connectedClient(t, f)
	err := c.Pause()
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, -32000, pe.Code)
	assert.Equal(t, StateConnected, c.State())

	// Subsequent calls still work.
	require.NoError(t, c.Resume())
}
