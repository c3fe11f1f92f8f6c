//go:build windows

package subprocess

import (
	"os/exec"
	"syscall"
)

func procAttrForNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func terminateGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
