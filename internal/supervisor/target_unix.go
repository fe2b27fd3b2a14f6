//go:build !windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// setProcAttrs places the target in its own process group so signals
// reach the whole tree, not just the immediate child.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers SIGTERM (or SIGKILL when kill is set) to the
// target's process group.
func signalGroup(cmd *exec.Cmd, kill bool) {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, sig); err != nil {
		// Group may be gone already; fall back to the process itself.
		_ = cmd.Process.Signal(sig)
	}
}

// socketPair creates the bidirectional message channel handed to the
// target as an inherited descriptor. The parent keeps one end, the
// child end rides in ExtraFiles.
func socketPair() (parent, child *os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	syscall.CloseOnExec(fds[0])
	parent = os.NewFile(uintptr(fds[0]), "ipc-parent")
	child = os.NewFile(uintptr(fds[1]), "ipc-child")
	return parent, child, nil
}
