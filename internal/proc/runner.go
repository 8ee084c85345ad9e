package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"golang.org/x/sync/errgroup"
)

// drainDelay bounds how long the pipes are read after the process tree was
// killed. Grandchildren outside of the process group may keep them open.
const drainDelay = 2 * time.Second

// Command describes a child process. Env is appended to the environment of
// the current process.
type Command struct {
	Key     string
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Chunk is a single line of child output.
type Chunk struct {
	Stream model.Stream
	Line   string
}

type ChunkFunc func(Chunk)

// Exit describes how a child process ended.
type Exit struct {
	Code      int
	TimedOut  bool
	Cancelled bool
	Started   time.Time
	Stopped   time.Time
	Err       error
}

// Success reports a zero exit code of a process which was neither killed
// nor timed out.
func (e Exit) Success() bool {
	return e.Code == 0 && !e.TimedOut && !e.Cancelled
}

func (e Exit) Duration() time.Duration {
	return e.Stopped.Sub(e.Started)
}

// Runner spawns child processes, registers them in a Registry and streams
// their output line by line.
type Runner struct {
	registry *Registry
}

func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run starts proto and blocks until the process exits and both output
// streams are drained. onChunk is called from the calling goroutine, in the
// order the lines were read. The process tree is killed when ctx is done or
// proto.Timeout elapses.
//
// The returned error is non-nil only when the process could not be started:
// model.ErrProcessExists for a busy key or model.ErrSpawn. Everything that
// happens after a successful start is described by Exit.
func (r *Runner) Run(ctx context.Context, proto Command, onChunk ChunkFunc) (Exit, error) {
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}
	h := newHandle(proto.Key)
	if err := r.registry.Register(h); err != nil {
		return Exit{}, err
	}
	defer r.registry.RemoveIf(proto.Key, h)

	if err := ctx.Err(); err != nil {
		return Exit{Cancelled: true, Code: -1, Err: err}, nil
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = append(os.Environ(), proto.Env...)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Exit{}, fmt.Errorf("%w: %s: %w", model.ErrSpawn, proto.Path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Exit{}, fmt.Errorf("%w: %s: %w", model.ErrSpawn, proto.Path, err)
	}

	exit := Exit{Started: time.Now().UTC()}
	if err := cmd.Start(); err != nil {
		return Exit{}, fmt.Errorf("%w: %s: %w", model.ErrSpawn, proto.Path, err)
	}
	h.attach(cmd)
	slog.DebugContext(ctx, "process started", "key", proto.Key, "path", proto.Path, "pid", h.Pid())

	chunks := make(chan Chunk, 64)
	pumped := make(chan error, 1)
	var g errgroup.Group
	g.Go(func() error { return pump(stdout, model.StreamStdout, chunks) })
	g.Go(func() error { return pump(stderr, model.StreamStderr, chunks) })
	go func() {
		pumped <- g.Wait()
		close(chunks)
	}()

	var timeout <-chan time.Time
	if proto.Timeout > 0 {
		t := time.NewTimer(proto.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	var drain <-chan time.Time
	var drainTimer *time.Timer
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
	}()
	done := ctx.Done()

	kill := func(reason string) {
		slog.DebugContext(ctx, "killing process tree", "key", proto.Key, "pid", h.Pid(), "reason", reason)
		if err := h.Kill(); err != nil {
			slog.WarnContext(ctx, "kill process tree", "key", proto.Key, "error", err)
		}
		if drainTimer == nil {
			drainTimer = time.NewTimer(drainDelay)
			drain = drainTimer.C
		}
	}

	for chunks != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			onChunk(c)
		case <-timeout:
			timeout = nil
			exit.TimedOut = true
			kill("timeout")
		case <-done:
			done = nil
			exit.Cancelled = true
			kill("cancelled")
		case <-drain:
			drain = nil
			_ = stdout.Close()
			_ = stderr.Close()
		}
	}

	if err := <-pumped; err != nil {
		slog.WarnContext(ctx, "reading process output", "key", proto.Key, "error", err)
	}
	werr := cmd.Wait()
	exit.Stopped = time.Now().UTC()
	exit.Code = cmd.ProcessState.ExitCode()
	exit.Err = werr
	slog.DebugContext(ctx, "process exited",
		"key", proto.Key,
		"code", exit.Code,
		"timed_out", exit.TimedOut,
		"cancelled", exit.Cancelled,
		"duration", exit.Duration(),
	)
	return exit, nil
}

func pump(r io.Reader, stream model.Stream, out chan<- Chunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out <- Chunk{Stream: stream, Line: line}
	}
	err := scanner.Err()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	if err != nil {
		// keep the pipe drained so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("%s: %w", stream, err)
	}
	return nil
}

// ScanLines is a bufio.SplitFunc splitting on '\n' and on a bare '\r', which
// progress reporting tools use to redraw the current line.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
