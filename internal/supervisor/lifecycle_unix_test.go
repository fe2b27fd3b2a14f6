//go:build !windows

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetap/nodetap/internal/breakpoint"
)

func TestStartStopLifecycle(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "while true; do echo tick; sleep 0.05; done"}
		sp.StopTimeout = time.Second
	})

	require.NoError(t, s.Start())
	st := s.Status()
	assert.Equal(t, "running", st.State)
	assert.True(t, st.Running)
	assert.Greater(t, st.PID, 0)

	waitFor(t, 3*time.Second, func() bool {
		return ringContains(s.ring, "stdout", "tick")
	}, "no stdout captured")

	require.NoError(t, s.Stop())
	st = s.Status()
	assert.Equal(t, "stopped", st.State)
	assert.False(t, st.Running)
	assert.True(t, ringContains(s.ring, "system", "target stopped"))

	// Stop is idempotent.
	require.NoError(t, s.Stop())
}

func TestStartWhileRunningFails(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 60"}
	})
	require.NoError(t, s.Start())
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
	require.NoError(t, s.Stop())
}

func TestSpawnErrorOnMissingBinary(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Command = "/nonexistent/definitely-not-a-binary"
	})
	err := s.Start()
	require.Error(t, err)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "stopped", s.Status().State, "spawn failure is fatal to the attempt only")

	// The supervisor stays usable after a failed start.
	require.NoError(t, s.Stop())
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "echo done; exit 0"}
		sp.AutoRestart = true
		sp.RestartBackoff = 50 * time.Millisecond
	})
	require.NoError(t, s.Start())
	waitFor(t, 3*time.Second, func() bool {
		return s.Status().State == "stopped"
	}, "target did not exit")

	time.Sleep(200 * time.Millisecond)
	st := s.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Zero(t, st.Restarts)
	assert.True(t, ringContains(s.ring, "system", "exited cleanly"))
}

func TestCrashTriggersAutoRestart(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 0.05; exit 3"}
		sp.AutoRestart = true
		sp.RestartBackoff = 50 * time.Millisecond
	})
	require.NoError(t, s.Start())
	waitFor(t, 5*time.Second, func() bool {
		return s.Status().Restarts >= 1
	}, "crash did not trigger a restart")
	assert.True(t, ringContains(s.ring, "system", "target crashed"))
	assert.True(t, ringContains(s.ring, "system", "restarting in"))
	require.NoError(t, s.Stop())
}

func TestStopCancelsPendingRestart(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "exit 7"}
		sp.AutoRestart = true
		sp.RestartBackoff = 300 * time.Millisecond
	})
	require.NoError(t, s.Start())
	waitFor(t, 3*time.Second, func() bool {
		return s.Status().State == "stopped"
	}, "target did not crash")
	require.NoError(t, s.Stop())

	time.Sleep(500 * time.Millisecond)
	st := s.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Zero(t, st.Restarts, "stop must cancel the scheduled restart")
}

func TestRestartPreservesPersistedBreakpoints(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 60"}
	})
	ctx := context.Background()
	_, err := s.SetBreakpoint(ctx, breakpoint.Persisted{File: "srv.js", Line: 42, Condition: "x > 1", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Restart())
	assert.Equal(t, "running", s.Status().State)
	assert.Equal(t, 1, s.Status().Restarts)

	list, err := s.ListBreakpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "srv.js", list[0].File)
	assert.Equal(t, 42, list[0].Line)
	assert.Equal(t, "x > 1", list[0].Condition)

	require.NoError(t, s.Stop())
}

func TestInteractiveStdinRoundTrip(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", `read line; echo "got $line"; sleep 60`}
		sp.Interactive = true
		sp.SettleDelay = 100 * time.Millisecond
	})
	require.NoError(t, s.Start())
	require.NoError(t, s.WriteStdin("hello"))
	waitFor(t, 3*time.Second, func() bool {
		return ringContains(s.ring, "stdout", "got hello")
	}, "stdin line was not echoed back")
	require.NoError(t, s.Stop())
}

func TestInteractiveSettleNote(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "echo ready; sleep 60"}
		sp.Interactive = true
		sp.SettleDelay = 80 * time.Millisecond
	})
	require.NoError(t, s.Start())
	waitFor(t, 3*time.Second, func() bool {
		return ringContains(s.ring, "system", "waiting for input")
	}, "quiet period was not noted")
	require.NoError(t, s.Stop())
}

func TestEvaluateTimesOutAgainstSilentTarget(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 60"}
		sp.Inject = true
		sp.Eval = true
	})
	require.NoError(t, s.Start())

	start := time.Now()
	_, err := s.Evaluate(context.Background(), "answer()", 100*time.Millisecond)
	require.Error(t, err)
	var te *EvalTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 100*time.Millisecond, te.Timeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, ringContains(s.ring, "system", "evaluation timed out"))

	require.NoError(t, s.Stop())
}

func TestExitFailsPendingEvaluations(t *testing.T) {
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 60"}
		sp.Inject = true
	})
	require.NoError(t, s.Start())

	done := make(chan error, 1)
	go func() {
		_, err := s.Evaluate(context.Background(), "pending()", 10*time.Second)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case err := <-done:
		// The waiter is released with a normal "target exited" answer.
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending evaluation not released on exit")
	}
}

func TestWatchRestartsOnSourceChange(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, func(sp *Spec) {
		sp.Args = []string{"-c", "sleep 60"}
		sp.Watch = WatchConfig{Paths: []string{dir}, Debounce: 50 * time.Millisecond}
	})
	require.NoError(t, s.Start())

	writeFile(t, dir, "app.js", "console.log('v2')")
	waitFor(t, 5*time.Second, func() bool {
		return s.Status().Restarts >= 1 && s.Status().State == "running"
	}, "source change did not restart the target")
	assert.True(t, ringContains(s.ring, "system", "source change detected"))
	require.NoError(t, s.Stop())
}
