//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttrs(cmd *exec.Cmd) {}

// signalGroup has no group semantics on this platform; kill the process.
func signalGroup(cmd *exec.Cmd, kill bool) {
	if kill {
		_ = cmd.Process.Kill()
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
}

// socketPair is unavailable; injection requires a Unix host.
func socketPair() (parent, child *os.File, err error) {
	return nil, nil, errors.New("agent injection is not supported on windows")
}
