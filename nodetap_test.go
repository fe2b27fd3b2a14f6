package nodetap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTap(t *testing.T) *Tap {
	t.Helper()
	tp, err := New(Options{
		Spec:      Spec{Name: "demo", Command: "/bin/sh"},
		StorePath: filepath.Join(t.TempDir(), "bp.db"),
		RingSize:  100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Close() })
	return tp
}

func TestNewRequiresCommand(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestFacadeStatusStopped(t *testing.T) {
	tp := newTestTap(t)
	st := tp.Status()
	assert.Equal(t, "demo", st.Name)
	assert.Equal(t, "stopped", st.State)
	assert.False(t, st.Running)
}

func TestFacadeBreakpointRoundTrip(t *testing.T) {
	tp := newTestTap(t)
	ctx := context.Background()

	bp, err := tp.SetBreakpoint(ctx, Breakpoint{File: "server.js", Line: 42, Condition: "x > 1", Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, bp.ID, "protocol id only exists inside a session")

	list, err := tp.ListBreakpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "server.js", list[0].File)

	key := BreakpointKey{File: "server.js", Line: 42, Condition: "x > 1"}
	require.NoError(t, tp.EnableBreakpoint(ctx, key, false))
	list, err = tp.ListBreakpoints(ctx)
	require.NoError(t, err)
	assert.False(t, list[0].Enabled)

	require.NoError(t, tp.RemoveBreakpoint(ctx, key))
	list, err = tp.ListBreakpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFacadePatterns(t *testing.T) {
	tp := newTestTap(t)
	tp.AddPattern("connection refused", "net-down")

	list := tp.ListPatterns()
	require.Len(t, list, 1)
	assert.Equal(t, "net-down", list[0].Label)
	assert.True(t, list[0].Enabled)

	tp.EnablePattern("connection refused", false)
	assert.False(t, tp.ListPatterns()[0].Enabled)

	tp.RemovePattern("connection refused")
	assert.Empty(t, tp.ListPatterns())
}

func TestFacadeResumeWithoutPause(t *testing.T) {
	tp := newTestTap(t)
	res := tp.Resume(nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "no active pause")
}

func TestFacadeEvaluateWithoutTarget(t *testing.T) {
	tp := newTestTap(t)
	_, err := tp.Evaluate(context.Background(), "1+1", 0)
	require.Error(t, err)
}

func TestFacadeLogsEmpty(t *testing.T) {
	tp := newTestTap(t)
	assert.Empty(t, tp.Logs(10))
}
