//go:build windows

package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func groupOf(int) int {
	return 0
}

// killTree runs taskkill /T /F against the pid and falls back to
// terminating the single process.
func killTree(p *os.Process, pid int, _ int) error {
	out, err := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/T", "/F").CombinedOutput()
	if err == nil {
		return nil
	}
	if kerr := p.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		return fmt.Errorf("taskkill %d: %s: %w", pid, strings.TrimSpace(string(out)), errors.Join(err, kerr))
	}
	return nil
}
