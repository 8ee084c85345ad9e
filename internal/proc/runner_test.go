package proc_test

import (
	"bufio"
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/proc"
	"github.com/stretchr/testify/require"
)

func lookSh(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipped, requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestRun(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	runner := proc.NewRunner(proc.NewRegistry())

	var stdout, stderr []string
	exit, err := runner.Run(t.Context(), proc.Command{
		Key:  "run",
		Path: sh,
		Args: []string{"-c", `echo one; echo two; printf 'a 10%%\rb 20%%\r\n'; echo "$SHERLOCK_TEST" >&2; exit 3`},
		Env:  []string{"SHERLOCK_TEST=from-env"},
	}, func(c proc.Chunk) {
		switch c.Stream {
		case model.StreamStdout:
			stdout = append(stdout, c.Line)
		case model.StreamStderr:
			stderr = append(stderr, c.Line)
		}
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "a 10%", "b 20%"}, stdout)
	require.Equal(t, []string{"from-env"}, stderr)
	require.Equal(t, 3, exit.Code)
	require.False(t, exit.Success())
	require.Error(t, exit.Err)
	require.False(t, exit.TimedOut)
	require.False(t, exit.Cancelled)
	require.GreaterOrEqual(t, exit.Duration(), time.Duration(0))
}

func TestRun_Dir(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	runner := proc.NewRunner(proc.NewRegistry())
	dir := t.TempDir()

	var lines []string
	exit, err := runner.Run(t.Context(), proc.Command{
		Key:  "dir",
		Path: sh,
		Args: []string{"-c", "pwd -P"},
		Dir:  dir,
	}, func(c proc.Chunk) { lines = append(lines, c.Line) })
	require.NoError(t, err)
	require.True(t, exit.Success())
	require.Len(t, lines, 1)
	require.True(t, strings.HasSuffix(lines[0], dir[strings.LastIndex(dir, "/"):]))
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := proc.NewRegistry()
	runner := proc.NewRunner(reg)

	start := time.Now()
	// the grandchild sleep shares the process group and must die too
	exit, err := runner.Run(t.Context(), proc.Command{
		Key:     "timeout",
		Path:    sh,
		Args:    []string{"-c", "sleep 30 & wait"},
		Timeout: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.True(t, exit.TimedOut)
	require.False(t, exit.Success())
	require.Less(t, time.Since(start), 10*time.Second)
	require.Zero(t, reg.Len())
}

func TestRun_Cancel(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	runner := proc.NewRunner(proc.NewRegistry())

	ctx, cancel := context.WithCancel(t.Context())
	exit, err := runner.Run(ctx, proc.Command{
		Key:  "cancel",
		Path: sh,
		Args: []string{"-c", "echo started; sleep 30"},
	}, func(proc.Chunk) { cancel() })
	require.NoError(t, err)
	require.True(t, exit.Cancelled)
	require.False(t, exit.TimedOut)
	require.False(t, exit.Success())

	exit, err = runner.Run(ctx, proc.Command{Key: "cancel", Path: sh, Args: []string{"-c", "true"}}, nil)
	require.NoError(t, err)
	require.True(t, exit.Cancelled, "cancelled context must not spawn")
}

func TestRun_SpawnError(t *testing.T) {
	t.Parallel()
	reg := proc.NewRegistry()
	runner := proc.NewRunner(reg)
	_, err := runner.Run(t.Context(), proc.Command{
		Key:  "nope",
		Path: "/does/not/exist/tool",
	}, nil)
	require.ErrorIs(t, err, model.ErrSpawn)
	require.Zero(t, reg.Len(), "failed spawn must deregister")
}

func TestScanLines(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     []string
	}{
		{"lf", "a\nb\n", []string{"a", "b"}},
		{"cr progress", "x 1%\rx 2%\rx 3%", []string{"x 1%", "x 2%", "x 3%"}},
		{"crlf", "a\r\nb", []string{"a", "", "b"}},
		{"empty", "", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			s := bufio.NewScanner(strings.NewReader(tc.given))
			s.Split(proc.ScanLines)
			var got []string
			for s.Scan() {
				got = append(got, s.Text())
			}
			require.NoError(t, s.Err())
			require.Equal(t, tc.then, got)
		})
	}
}
