// Package clone materializes working copies of repositories, either from the
// repository cache or by running git clone.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/proc"
	"github.com/DevJayantaGhosh/sherlock/internal/progress"
	"github.com/DevJayantaGhosh/sherlock/internal/repocache"
	"github.com/DevJayantaGhosh/sherlock/internal/telemetry"

	"github.com/go-git/go-git/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Emit receives the log lines of a clone together with their progress.
type Emit func(line string, progress int, stream model.Stream)

type Config struct {
	// Workspace is the parent directory of all clones.
	Workspace string
	// Timeout is the wall clock limit of a single git clone.
	Timeout time.Duration
	// Depth is passed as --depth when positive.
	Depth int
	// Token is embedded into http(s) URLs without credentials. It is
	// never stored nor logged.
	Token string
	// Git is the git binary, resolved from PATH when empty.
	Git string
}

// Result is a resolved working directory.
type Result struct {
	Path   string
	Cached bool
	Head   string
}

type Coordinator struct {
	cache   *repocache.Cache
	runner  *proc.Runner
	cfg     Config
	band    progress.Band
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

type Option func(*Coordinator)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithBand overrides the progress band of the clone output.
func WithBand(b progress.Band) Option {
	return func(c *Coordinator) { c.band = b }
}

func New(cache *repocache.Cache, runner *proc.Runner, cfg Config, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = model.DefaultCloneTimeout
	}
	c := &Coordinator{
		cache:   cache,
		runner:  runner,
		cfg:     cfg,
		band:    progress.Clone,
		metrics: telemetry.Noop(),
		tracer:  telemetry.NoopTracer(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) Cache() *repocache.Cache {
	return c.cache
}

// Resolve returns a working directory of repo. A local path is validated, a
// cached clone whose marker still exists is returned as is, anything else is
// cloned under the session clone process key. Concurrent calls for the same
// repository are not deduplicated, each clones into its own directory.
//
// Failures wrap model.ErrCloneFailed; a cancelled ctx yields model.ErrCancelled.
func (c *Coordinator) Resolve(ctx context.Context, sessionID string, repo model.Repository, emit Emit) (Result, error) {
	if emit == nil {
		emit = func(string, int, model.Stream) {}
	}
	ctx, span := c.tracer.Start(ctx, "clone.resolve",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("repository_url", Redact(repo.URL, c.cfg.Token)),
			attribute.String("branch", repo.Branch),
		))
	defer span.End()

	res, err := c.resolve(ctx, sessionID, repo, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("path", res.Path),
		attribute.Bool("cached", res.Cached),
	)
	return res, nil
}

func (c *Coordinator) resolve(ctx context.Context, sessionID string, repo model.Repository, emit Emit) (Result, error) {
	if repo.LocalPath != "" {
		return c.local(repo, emit)
	}
	if repo.URL == "" {
		return Result{}, fmt.Errorf("%w: repository has neither url nor local path", model.ErrInvalidRequest)
	}

	if path, ok := c.cache.Lookup(repo.URL, repo.Branch); ok {
		c.metrics.IncCloneCacheHit(ctx)
		slog.DebugContext(ctx, "repository cache hit", "key", Redact(repo.CacheKey(), c.cfg.Token), "path", path)
		emit("using cached working copy "+path, c.band.To, model.StreamEngine)
		return Result{Path: path, Cached: true, Head: Head(path)}, nil
	}

	start := time.Now()
	res, err := c.clone(ctx, sessionID, repo, emit)
	outcome := telemetry.OutcomeSucceeded
	switch {
	case errors.Is(err, model.ErrCancelled):
		outcome = telemetry.OutcomeCancelled
	case err != nil:
		outcome = telemetry.OutcomeFailed
	}
	c.metrics.ObserveClone(ctx, outcome, time.Since(start))
	return res, err
}

func (c *Coordinator) local(repo model.Repository, emit Emit) (Result, error) {
	path, err := filepath.Abs(repo.LocalPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", model.ErrCloneFailed, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", model.ErrCloneFailed, err)
	}
	if !info.IsDir() || !repocache.HasMarker(path) {
		return Result{}, fmt.Errorf("%w: %s is not a git working copy", model.ErrCloneFailed, path)
	}
	emit("using local working copy "+path, c.band.To, model.StreamEngine)
	return Result{Path: path, Cached: true, Head: Head(path)}, nil
}

func (c *Coordinator) clone(ctx context.Context, sessionID string, repo model.Repository, emit Emit) (Result, error) {
	gitPath := c.cfg.Git
	if gitPath == "" {
		var err error
		gitPath, err = exec.LookPath("git")
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w: git: %w", model.ErrCloneFailed, model.ErrToolNotFound, err)
		}
	}

	if err := os.MkdirAll(c.cfg.Workspace, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: workspace: %w", model.ErrCloneFailed, err)
	}
	dir, err := os.MkdirTemp(c.cfg.Workspace, dirPattern(repo, time.Now()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: target directory: %w", model.ErrCloneFailed, err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.WarnContext(ctx, "removing partial clone", "path", dir, "error", err)
		}
	}

	args := []string{"clone", "--progress"}
	if c.cfg.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(c.cfg.Depth))
	}
	if repo.Branch != "" {
		args = append(args, "--branch", repo.Branch)
	}
	args = append(args, "--", InjectToken(repo.URL, c.cfg.Token), dir)

	tracker := c.band.Tracker()
	emit(fmt.Sprintf("cloning %s (%s) into %s", Redact(repo.URL, c.cfg.Token), repo.Branch, dir), tracker.Current(), model.StreamEngine)

	var lastErr string
	exit, err := c.runner.Run(ctx, proc.Command{
		Key:     model.CloneProcessKey(sessionID),
		Path:    gitPath,
		Args:    args,
		Env:     []string{"GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS="},
		Timeout: c.cfg.Timeout,
	}, func(ch proc.Chunk) {
		line := Redact(ch.Line, c.cfg.Token)
		if ch.Stream == model.StreamStderr {
			lastErr = line
		}
		emit(line, tracker.Next(), ch.Stream)
	})
	if err != nil {
		cleanup()
		return Result{}, fmt.Errorf("%w: %w", model.ErrCloneFailed, err)
	}

	switch {
	case exit.Cancelled || ctx.Err() != nil:
		cleanup()
		return Result{}, fmt.Errorf("%w: clone of %s", model.ErrCancelled, Redact(repo.URL, c.cfg.Token))
	case exit.TimedOut:
		cleanup()
		return Result{}, fmt.Errorf("%w: %w: git clone did not finish within %s", model.ErrCloneFailed, model.ErrTimeout, c.cfg.Timeout)
	case exit.Code != 0:
		cleanup()
		msg := fmt.Sprintf("git clone exited with code %d", exit.Code)
		if lastErr != "" {
			msg += ": " + lastErr
		}
		return Result{}, fmt.Errorf("%w: %s", model.ErrCloneFailed, msg)
	}

	c.cache.Store(repo.URL, repo.Branch, dir)
	slog.DebugContext(ctx, "repository cloned", "path", dir, "duration", exit.Duration())
	return Result{Path: dir, Head: Head(dir)}, nil
}

// Head returns the commit hash HEAD of the working copy at dir points to,
// or an empty string.
func Head(dir string) string {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	ref, err := r.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func dirPattern(repo model.Repository, now time.Time) string {
	branch := repo.Branch
	if branch == "" {
		branch = "default"
	}
	name := unsafeChars.ReplaceAllString(repo.Name(), "_")
	branch = unsafeChars.ReplaceAllString(branch, "_")
	return fmt.Sprintf("%s-%s-%d-*", name, branch, now.UnixMilli())
}

// InjectToken embeds token as x-access-token credentials into an http(s)
// URL which carries no userinfo yet. Any other URL is returned unchanged.
func InjectToken(rawURL, token string) string {
	if token == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.User != nil {
		return rawURL
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return rawURL
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}

var userinfo = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.-]*://)[^/@\s]+@`)

// Redact removes URL userinfo and every occurrence of token from s.
func Redact(s, token string) string {
	if token != "" {
		s = strings.ReplaceAll(s, token, "***")
	}
	return userinfo.ReplaceAllString(s, "$1")
}
