package agent

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetap/nodetap/internal/ipc"
)

// testRig wires an agent to in-memory pipes: cmd plays the supervisor's
// outbound side, raw is the same stream without framing, msgs receives
// everything the agent sends back.
type testRig struct {
	agent *Agent
	cmd   *ipc.Writer
	raw   io.Writer
	msgs  chan ipc.Envelope
}

func newTestRig(t *testing.T, evalEnabled bool) *testRig {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	msgR, msgW := io.Pipe()

	a := &Agent{
		enabled:     true,
		evalEnabled: evalEnabled,
		w:           ipc.NewWriter(msgW),
		r:           ipc.NewReader(cmdR),
		ch:          cmdR,
		state:       make(map[string]any),
		stdout:      io.Discard,
		done:        make(chan struct{}),
	}
	go a.readLoop()

	msgs := make(chan ipc.Envelope, 64)
	go func() {
		r := ipc.NewReader(msgR)
		for {
			env, err := r.Next()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- env
		}
	}()

	t.Cleanup(func() {
		a.Close()
		cmdW.Close()
		msgW.Close()
	})
	return &testRig{agent: a, cmd: ipc.NewWriter(cmdW), raw: cmdW, msgs: msgs}
}

// await skips unrelated traffic until a message of the wanted type arrives.
func (r *testRig) await(t *testing.T, typ ipc.Type) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-r.msgs:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", typ)
			}
			if env.Type != typ {
				continue
			}
			msg, err := env.Decode()
			require.NoError(t, err)
			return msg
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestBreakpointHitAndResume(t *testing.T) {
	rig := newTestRig(t, false)
	rig.agent.Set("orders", 3)

	type outcome struct {
		ret any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ret, err := rig.agent.Breakpoint("before-charge", map[string]any{"amount": 7})
		done <- outcome{ret, err}
	}()

	hit := rig.await(t, ipc.TypeBreakpointHit).(*ipc.BreakpointHit)
	assert.Equal(t, "before-charge", hit.Label)
	assert.NotEmpty(t, hit.ID)
	assert.NotEmpty(t, hit.Stack)
	assert.Equal(t, float64(7), hit.Context.(map[string]any)["amount"])
	assert.Equal(t, float64(3), hit.State["orders"])

	// The goroutine must still be suspended.
	select {
	case <-done:
		t.Fatal("breakpoint returned before resume")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, rig.cmd.Send(ipc.TypeResumeBreakpoint, ipc.ResumeBreakpoint{ReturnValue: 42}))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, float64(42), out.ret)

	resumed := rig.await(t, ipc.TypeBreakpointResumed).(*ipc.BreakpointResumed)
	assert.Equal(t, hit.ID, resumed.ID)
	assert.Equal(t, "before-charge", resumed.Label)
	assert.Greater(t, resumed.PauseDurationMs, int64(0))
}

func TestBreakpointFIFOOrder(t *testing.T) {
	rig := newTestRig(t, false)

	first := make(chan any, 1)
	second := make(chan any, 1)
	go func() {
		ret, _ := rig.agent.Breakpoint("first", nil)
		first <- ret
	}()
	rig.await(t, ipc.TypeBreakpointHit)
	go func() {
		ret, _ := rig.agent.Breakpoint("second", nil)
		second <- ret
	}()
	rig.await(t, ipc.TypeBreakpointHit)

	require.NoError(t, rig.cmd.Send(ipc.TypeResumeBreakpoint, ipc.ResumeBreakpoint{ReturnValue: "a"}))
	assert.Equal(t, "a", <-first)
	select {
	case <-second:
		t.Fatal("second pause released out of order")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, rig.cmd.Send(ipc.TypeResumeBreakpoint, ipc.ResumeBreakpoint{ReturnValue: "b"}))
	assert.Equal(t, "b", <-second)
}

func TestBreakpointDisabledReturnsImmediately(t *testing.T) {
	a := &Agent{state: make(map[string]any), stdout: io.Discard, done: make(chan struct{})}
	ret, err := a.Breakpoint("anything", "ctx")
	require.NoError(t, err)
	assert.Nil(t, ret)
}

func TestTriggerBreakpoint(t *testing.T) {
	rig := newTestRig(t, false)

	require.NoError(t, rig.cmd.Send(ipc.TypeTriggerBreakpoint, ipc.TriggerBreakpoint{Label: "manual"}))
	hit := rig.await(t, ipc.TypeBreakpointHit).(*ipc.BreakpointHit)
	assert.Equal(t, "manual", hit.Label)

	require.NoError(t, rig.cmd.Send(ipc.TypeResumeBreakpoint, ipc.ResumeBreakpoint{}))
	rig.await(t, ipc.TypeBreakpointResumed)
}

func TestEvalRoundTrip(t *testing.T) {
	rig := newTestRig(t, true)

	require.NoError(t, rig.cmd.Send(ipc.TypeEvalRequest, ipc.EvalRequest{ID: "e1", Code: "return 1 + 2"}))
	resp := rig.await(t, ipc.TypeEvalResponse).(*ipc.EvalResponse)
	assert.Equal(t, "e1", resp.ID)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(3), resp.Result)
}

func TestEvalStateAPI(t *testing.T) {
	rig := newTestRig(t, true)
	rig.agent.Set("count", 10)

	code := `set("next", get("count") + 1) return get("next")`
	require.NoError(t, rig.cmd.Send(ipc.TypeEvalRequest, ipc.EvalRequest{ID: "e2", Code: code}))
	resp := rig.await(t, ipc.TypeEvalResponse).(*ipc.EvalResponse)
	require.True(t, resp.Success)
	assert.Equal(t, float64(11), resp.Result)

	v, ok := rig.agent.Get("next")
	require.True(t, ok)
	assert.Equal(t, float64(11), v)
}

func TestEvalSyntaxErrorIsReported(t *testing.T) {
	rig := newTestRig(t, true)

	require.NoError(t, rig.cmd.Send(ipc.TypeEvalRequest, ipc.EvalRequest{ID: "e3", Code: "return ((("}))
	resp := rig.await(t, ipc.TypeEvalResponse).(*ipc.EvalResponse)
	assert.Equal(t, "e3", resp.ID)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestEvalDisabledAnswersNormally(t *testing.T) {
	rig := newTestRig(t, false)

	require.NoError(t, rig.cmd.Send(ipc.TypeEvalRequest, ipc.EvalRequest{ID: "e4", Code: "return 1"}))
	resp := rig.await(t, ipc.TypeEvalResponse).(*ipc.EvalResponse)
	assert.Equal(t, "e4", resp.ID)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "disabled")
}

func TestStateMirroredOnSet(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.Set("mode", "draining")
	st := rig.await(t, ipc.TypeState).(*ipc.State)
	assert.Equal(t, "mode", st.Key)
	assert.Equal(t, "draining", st.Value)
}

func TestStateRequestResponse(t *testing.T) {
	rig := newTestRig(t, false)
	rig.agent.Set("a", 1)
	rig.agent.Set("b", "two")

	require.NoError(t, rig.cmd.Send(ipc.TypeStateRequest, nil))
	resp := rig.await(t, ipc.TypeStateResponse).(*ipc.StateResponse)
	assert.Equal(t, float64(1), resp.State["a"])
	assert.Equal(t, "two", resp.State["b"])
}

func TestGlobalsRequestListsSortedKeys(t *testing.T) {
	rig := newTestRig(t, false)
	rig.agent.Set("zeta", 1)
	rig.agent.Set("alpha", 2)

	require.NoError(t, rig.cmd.Send(ipc.TypeGlobalsRequest, nil))
	resp := rig.await(t, ipc.TypeGlobalsResponse).(*ipc.GlobalsResponse)
	assert.Equal(t, []string{"alpha", "zeta"}, resp.Names)
}

func TestEmitAndSpan(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.Emit("order.created", map[string]any{"id": 9})
	ev := rig.await(t, ipc.TypeEvent).(*ipc.Event)
	assert.Equal(t, "order.created", ev.Name)

	end := rig.agent.StartSpan("checkout")
	start := rig.await(t, ipc.TypeSpan).(*ipc.Span)
	assert.Equal(t, "start", start.Phase)

	end(errors.New("card declined"))
	fin := rig.await(t, ipc.TypeSpan).(*ipc.Span)
	assert.Equal(t, "end", fin.Phase)
	assert.Equal(t, "card declined", fin.Error)
	assert.GreaterOrEqual(t, fin.DurationMs, float64(0))
}

func TestReportError(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.ReportError(errors.New("db gone"))
	msg := rig.await(t, ipc.TypeError).(*ipc.Error)
	assert.Equal(t, "reported", msg.Kind)
	assert.Equal(t, "db gone", msg.Message)
}

func TestLogForwarding(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.Info("processed %d items", 5)
	lg := rig.await(t, ipc.TypeLog).(*ipc.Log)
	assert.Equal(t, "info", lg.Level)
	assert.Equal(t, "processed 5 items", lg.Message)
}

func TestReadLoopSurvivesGarbageLine(t *testing.T) {
	rig := newTestRig(t, false)

	_, err := rig.raw.Write([]byte("{not json\n"))
	require.NoError(t, err)

	// The loop must still answer requests after the bad line.
	rig.agent.Set("orders", 1)
	require.NoError(t, rig.cmd.Send(ipc.TypeGlobalsRequest, nil))
	resp := rig.await(t, ipc.TypeGlobalsResponse).(*ipc.GlobalsResponse)
	assert.Equal(t, []string{"orders"}, resp.Names)
}

func TestOversizedStateValueStillDelivered(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.Set("blob", strings.Repeat("x", 2<<20))
	st := rig.await(t, ipc.TypeState).(*ipc.State)
	assert.Equal(t, "blob", st.Key)
	v := st.Value.(map[string]any)
	assert.Equal(t, true, v["truncated"])
	assert.Equal(t, float64(2<<20), v["length"])

	// The channel stays usable for the next message.
	rig.agent.Set("after", "ok")
	st = rig.await(t, ipc.TypeState).(*ipc.State)
	assert.Equal(t, "after", st.Key)
	assert.Equal(t, "ok", st.Value)
}

func TestCloseReleasesChannel(t *testing.T) {
	rig := newTestRig(t, false)

	rig.agent.Close()
	rig.agent.Close() // idempotent

	// The read loop's end is closed, so the supervisor side sees a dead
	// pipe instead of a reader that never returns.
	err := rig.cmd.Send(ipc.TypeStateRequest, nil)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestActivateWithoutEnvironmentIsInert(t *testing.T) {
	t.Setenv(ipc.EnvChannelFD, "")
	t.Setenv(ipc.EnvAgentEnabled, "")
	a, on := Activate()
	assert.False(t, on)
	assert.False(t, a.Enabled())
	a.Set("k", 1) // must not panic with no channel
	v, ok := a.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
