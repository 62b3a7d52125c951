//go:build !windows

package provider

import (
	"os/exec"
	"syscall"
)

// sysProcAttr puts the child in its own process group so teardown can signal
// the whole group, not just the leading process.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the child's process group. Backends like
// llama-server fork workers; signalling only the leader would orphan them.
func terminate(cmd *exec.Cmd) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return err
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}
