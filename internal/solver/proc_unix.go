//go:build unix

package solver

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the solver in its own process group and makes
// context cancellation kill the whole group, so helpers forked by a
// wrapper script die with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
