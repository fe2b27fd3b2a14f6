package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/logring"
	"github.com/nodetap/nodetap/internal/server"
	"github.com/nodetap/nodetap/internal/supervisor"
)

// startTestPlane serves the real control API around a stopped supervisor.
func startTestPlane(t *testing.T) ClientFlags {
	t.Helper()
	store, err := breakpoint.NewStore(context.Background(), filepath.Join(t.TempDir(), "bp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sup, err := supervisor.New(supervisor.Options{
		Spec:   supervisor.Spec{Name: "demo", Command: "/bin/sh"},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ring:   logring.New(100),
		Store:  store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Shutdown() })

	srv := httptest.NewServer(server.NewRouter(sup, nil, "").Handler())
	t.Cleanup(srv.Close)
	return ClientFlags{APIUrl: srv.URL, APITimeout: 2 * time.Second}
}

func TestStatusAgainstRunningPlane(t *testing.T) {
	cli := &command{}
	require.NoError(t, cli.Status(startTestPlane(t)))
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	cli := &command{}
	err := cli.Status(ClientFlags{APIUrl: "http://127.0.0.1:1", APITimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestBreakpointRoundTripViaCLI(t *testing.T) {
	cli := &command{}
	flags := startTestPlane(t)

	require.NoError(t, cli.BreakpointSet(BreakpointFlags{
		ClientFlags: flags,
		File:        "server.js",
		Line:        42,
		Condition:   "x > 1",
	}))
	require.NoError(t, cli.BreakpointList(flags))
	require.NoError(t, cli.BreakpointEnable(BreakpointFlags{
		ClientFlags: flags, File: "server.js", Line: 42, Condition: "x > 1", Enabled: false,
	}))
	require.NoError(t, cli.BreakpointRemove(BreakpointFlags{
		ClientFlags: flags, File: "server.js", Line: 42, Condition: "x > 1",
	}))
}

func TestPatternRoundTripViaCLI(t *testing.T) {
	cli := &command{}
	flags := startTestPlane(t)

	require.NoError(t, cli.PatternAdd(PatternFlags{ClientFlags: flags, Pattern: "timeout", Label: "slow"}))
	require.NoError(t, cli.PatternList(flags))
	require.NoError(t, cli.PatternEnable(PatternFlags{ClientFlags: flags, Pattern: "timeout", Enabled: false}))
	require.NoError(t, cli.PatternRemove(PatternFlags{ClientFlags: flags, Pattern: "timeout"}))
}

func TestResumeWithoutPauseReportsReason(t *testing.T) {
	cli := &command{}
	err := cli.Resume(startTestPlane(t), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active pause")
}

func TestEvalWithoutTargetFails(t *testing.T) {
	cli := &command{}
	err := cli.Eval(EvalFlags{ClientFlags: startTestPlane(t), Code: "1+1"})
	require.Error(t, err)
}

func TestResourcesDisabledSurfacesError(t *testing.T) {
	cli := &command{}
	err := cli.Resources(startTestPlane(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
