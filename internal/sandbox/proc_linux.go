//go:build linux

package sandbox

import "syscall"

// sysProcAttr places the child in its own process group and ties its
// lifetime to the worker.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// killGroup delivers SIGKILL to the child's whole process group.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
