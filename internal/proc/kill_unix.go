//go:build !windows

package proc

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr starts the child in its own process group, so the group can be
// signalled as a whole.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// groupOf returns the process group of a child started with sysProcAttr.
func groupOf(pid int) int {
	return pid
}

// killTree sends SIGKILL to the negative process group id. A failed group
// signal falls back to killing the single process.
func killTree(p *os.Process, _ int, pgid int) error {
	if pgid > 0 {
		err := unix.Kill(-pgid, unix.SIGKILL)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
