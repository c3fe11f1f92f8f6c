//go:build !windows

package subprocess

import (
	"os/exec"
	"syscall"
)

func procAttrForNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup signals the whole process group so helper processes
// spawned by the provider CLI are reaped too, not just the direct child.
func terminateGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}
