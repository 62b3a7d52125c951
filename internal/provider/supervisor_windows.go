//go:build windows

package provider

import (
	"os/exec"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// terminate kills the child directly; Windows has no POSIX process groups to
// signal.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
