//go:build unix

package harness

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the harness in its own process group and makes
// cancellation signal the whole group with SIGTERM. Processes still running
// after the grace period are killed by killProcessGroup.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// ESRCH once every member has exited.
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
