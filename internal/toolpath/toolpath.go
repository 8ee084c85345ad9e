// Package toolpath resolves the on-disk location of the bundled tool binaries.
//
// Tools live under <root>/<platform>/<name>[.exe] where platform is one of
// linux, mac or win. Resolution is repeated on every call.
package toolpath

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

const (
	Gitleaks = "gitleaks"
	Trivy    = "trivy"
	Opengrep = "opengrep"
	Keygen   = "sherlock-keygen"
	Sign     = "sherlock-sign"
)

const (
	PlatformLinux = "linux"
	PlatformMac   = "mac"
	PlatformWin   = "win"
)

type Locator struct {
	root string
	goos string
}

func New(root string) Locator {
	return Locator{root: root, goos: runtime.GOOS}
}

// ForOS returns a Locator for a given GOOS value.
func ForOS(root, goos string) Locator {
	return Locator{root: root, goos: goos}
}

func (l Locator) Root() string {
	return l.root
}

// Platform maps GOOS onto the three platform folders.
func (l Locator) Platform() string {
	switch l.goos {
	case "windows":
		return PlatformWin
	case "darwin":
		return PlatformMac
	default:
		return PlatformLinux
	}
}

// Path returns the expected location of a tool without checking it.
func (l Locator) Path(name string) string {
	if l.goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(l.root, l.Platform(), name)
}

// Locate returns the tool path and true when the binary exists and is
// executable. On POSIX a missing owner executable bit is added; if that
// fails the tool is reported as not found.
func (l Locator) Locate(name string) (string, bool) {
	path := l.Path(name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if l.goos == "windows" {
		return path, true
	}
	if info.Mode().Perm()&0o100 != 0 {
		return path, true
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o100); err != nil {
		return "", false
	}
	return path, isOwnerExec(path)
}

func isOwnerExec(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&fs.FileMode(0o100) != 0
}
