// Package engine runs scan sessions. A session resolves a working copy,
// spawns one tool, streams its output on the bus and parses its report into
// a single terminal completion event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/bus"
	"github.com/DevJayantaGhosh/sherlock/internal/clone"
	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/proc"
	"github.com/DevJayantaGhosh/sherlock/internal/progress"
	"github.com/DevJayantaGhosh/sherlock/internal/repocache"
	"github.com/DevJayantaGhosh/sherlock/internal/telemetry"
	"github.com/DevJayantaGhosh/sherlock/internal/toolpath"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Request starts one session. Keygen and Sign carry the parameters of the
// respective kinds.
type Request struct {
	SessionID  string
	Kind       model.Kind
	Repository model.Repository
	Keygen     *model.KeygenParams
	Sign       *model.SignParams
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: empty session id", model.ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", model.ErrInvalidRequest, r.Kind)
	}
	switch r.Kind {
	case model.KindKeygen:
		if r.Keygen == nil {
			return fmt.Errorf("%w: keygen parameters missing", model.ErrInvalidRequest)
		}
		return r.Keygen.Validate()
	case model.KindSign:
		if r.Sign == nil {
			return fmt.Errorf("%w: sign parameters missing", model.ErrInvalidRequest)
		}
		if err := r.Sign.Validate(); err != nil {
			return err
		}
	}
	if r.Repository.IsZero() {
		return fmt.Errorf("%w: repository has neither url nor local path", model.ErrInvalidRequest)
	}
	return nil
}

// phase tracks the tool of a session. A cancel is honoured before the
// spawn and while the process is registered, never once it exited.
type phase int

const (
	phasePrepare phase = iota
	phaseSpawned
	phaseExited
)

type session struct {
	mx    sync.Mutex
	state model.Session
	phase phase
}

func (s *session) snapshot() model.Session {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

func (s *session) setProgress(p int) {
	s.mx.Lock()
	s.state.Progress = p
	s.mx.Unlock()
}

func (s *session) progress() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state.Progress
}

// transition moves a non terminal session into state and reports whether
// it did.
func (s *session) transition(state model.State) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.State.Terminal() {
		return false
	}
	s.state.State = state
	return true
}

func (s *session) spawn() {
	s.mx.Lock()
	s.phase = phaseSpawned
	s.mx.Unlock()
}

// exit closes the cancellable part of the session and reports whether a
// cancel was accepted before.
func (s *session) exit() (cancelled bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.phase = phaseExited
	return s.state.State == model.StateCancelled
}

// cancel moves the session into the cancelled state when its tool can still
// be stopped. registered reports whether a process is in the registry.
func (s *session) cancel(registered func() bool) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	switch {
	case s.state.State.Terminal(), s.phase == phaseExited:
		return false
	case s.phase == phaseSpawned && !registered():
		return false
	}
	s.state.State = model.StateCancelled
	return true
}

// Engine owns the process registry, the repository cache and the session
// table. Every session runs in its own goroutine.
type Engine struct {
	locator     toolpath.Locator
	runner      *proc.Runner
	cloner      *clone.Coordinator
	bus         *bus.Bus
	progress    progress.Table
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	git         string
	scanTimeout time.Duration
	window      int
	grace       time.Duration

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	ctx    context.Context
	cancel context.CancelFunc

	mx       sync.Mutex
	closed   bool
	sessions map[string]*session
	wg       sync.WaitGroup
}

type Option func(*Engine)

// WithProgress replaces the progress mapping of the given kinds.
func WithProgress(t progress.Table) Option {
	return func(e *Engine) {
		for k, p := range t {
			e.progress[k] = p
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithGit sets the git binary used for clones and signature logs. It is
// resolved from PATH by default.
func WithGit(path string) Option {
	return func(e *Engine) { e.git = path }
}

// WithBus shares an existing bus, e.g. with a caller which subscribes on
// its own.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// New builds an engine and all of its collaborators from cfg.
func New(cfg model.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		locator:     toolpath.New(cfg.Tools.Dir),
		bus:         bus.New(),
		progress:    progress.DefaultTable(),
		scanTimeout: cfg.Scan.Timeout,
		window:      cfg.Signature.Window,
		grace:       cfg.Cancel.Grace,
		sessions:    make(map[string]*session),
	}
	if e.grace <= 0 {
		e.grace = model.DefaultCancelGrace
	}
	for _, o := range opts {
		o(e)
	}

	registry := proc.NewRegistry()
	e.runner = proc.NewRunner(registry)
	if e.meterProvider != nil {
		m, err := telemetry.NewMetrics(e.meterProvider, registry.Len)
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		e.metrics = m
	} else {
		e.metrics = telemetry.Noop()
	}
	if e.tracerProvider != nil {
		e.tracer = telemetry.Tracer(e.tracerProvider)
	} else {
		e.tracer = telemetry.NoopTracer()
	}

	e.cloner = clone.New(repocache.New(), e.runner, clone.Config{
		Workspace: cfg.Workspace.Dir,
		Timeout:   cfg.Clone.Timeout,
		Depth:     cfg.Clone.Depth,
		Token:     cfg.Git.Token,
		Git:       e.git,
	}, clone.WithMetrics(e.metrics), clone.WithTracer(e.tracer))

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) Registry() *proc.Registry {
	return e.runner.Registry()
}

func (e *Engine) Cache() *repocache.Cache {
	return e.cloner.Cache()
}

func (e *Engine) Locator() toolpath.Locator {
	return e.locator
}

// Subscribe registers a subscriber of the session events. Subscribe before
// Start, otherwise early events are missed.
func (e *Engine) Subscribe(sessionID string, buffer int) *bus.Subscription {
	return e.bus.Subscribe(sessionID, buffer)
}

// Cancel fires the cancellation channel of a session. It returns
// {Cancelled: false} for unknown, finished or already cancelled sessions.
// The processes may still be exiting when Cancel returns.
func (e *Engine) Cancel(sessionID string) model.CancelResult {
	return e.bus.Cancel(sessionID)
}

// Sessions returns a snapshot of the in-flight sessions, oldest first.
func (e *Engine) Sessions() []model.Session {
	e.mx.Lock()
	ret := make([]model.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		ret = append(ret, s.snapshot())
	}
	e.mx.Unlock()
	slices.SortFunc(ret, func(a, b model.Session) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret
}

func (e *Engine) Session(id string) (model.Session, bool) {
	e.mx.Lock()
	s, ok := e.sessions[id]
	e.mx.Unlock()
	if !ok {
		return model.Session{}, false
	}
	return s.snapshot(), true
}

// Start validates req and runs the session in the background. Events are
// published on the bus under req.SessionID. The context only carries values,
// a session is stopped through Cancel or Close.
func (e *Engine) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s := &session{state: model.Session{
		ID:         req.SessionID,
		Kind:       req.Kind,
		Repository: req.Repository,
		State:      model.StatePending,
		Started:    time.Now().UTC(),
	}}

	e.mx.Lock()
	if e.closed {
		e.mx.Unlock()
		return fmt.Errorf("%w: engine is closed", model.ErrCancelled)
	}
	if _, ok := e.sessions[req.SessionID]; ok {
		e.mx.Unlock()
		return fmt.Errorf("%w: session %s is in flight", model.ErrProcessExists, req.SessionID)
	}
	e.sessions[req.SessionID] = s
	e.wg.Add(1)
	e.mx.Unlock()

	base := context.WithoutCancel(ctx)
	sctx, cancel := context.WithCancelCause(base)
	stop := context.AfterFunc(e.ctx, func() {
		cancel(fmt.Errorf("%w: engine closed", model.ErrCancelled))
	})

	// events of a cancelled session wait at most grace for a subscriber
	pub, pubCancel := context.WithCancel(base)
	stopPub := context.AfterFunc(sctx, func() {
		time.AfterFunc(e.grace, pubCancel)
	})

	keys := []string{model.ProcessKey(req.SessionID), model.CloneProcessKey(req.SessionID)}
	registered := func() bool {
		for _, key := range keys {
			if _, ok := e.Registry().Get(key); ok {
				return true
			}
		}
		return false
	}
	release := e.bus.HandleCancel(req.SessionID, func() model.CancelResult {
		if !s.cancel(registered) {
			return model.CancelResult{Cancelled: false}
		}
		cancel(model.ErrCancelled)
		for _, key := range keys {
			if _, err := e.Registry().Kill(key); err != nil {
				slog.WarnContext(base, "killing process tree", "process_key", key, "error", err)
			}
		}
		return model.CancelResult{Cancelled: true}
	})

	e.metrics.SessionStarted(base, string(req.Kind))
	go func() {
		defer e.wg.Done()
		defer stop()
		defer cancel(nil)
		defer stopPub()
		defer pubCancel()

		c := e.run(sctx, pub, s, req)
		release()

		outcome := telemetry.OutcomeSucceeded
		switch {
		case c.Cancelled:
			outcome = telemetry.OutcomeCancelled
		case !c.Success:
			outcome = telemetry.OutcomeFailed
		}
		e.metrics.SessionFinished(base, string(req.Kind), outcome, time.Since(s.snapshot().Started))

		e.bus.PublishDone(pub, c)
		e.mx.Lock()
		delete(e.sessions, req.SessionID)
		e.mx.Unlock()
	}()
	return nil
}

// Run starts req and blocks until its completion. onLog receives the log
// events in order. When ctx is done the session is cancelled and Run keeps
// waiting for the cancelled completion.
func (e *Engine) Run(ctx context.Context, req Request, onLog func(model.LogEvent)) (model.Completion, error) {
	sub := e.Subscribe(req.SessionID, 64)
	defer sub.Close()
	if err := e.Start(ctx, req); err != nil {
		return model.Completion{}, err
	}

	done := ctx.Done()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return model.Completion{}, fmt.Errorf("%w: session %s ended without completion", model.ErrCancelled, req.SessionID)
			}
			if ev.Completion != nil {
				return *ev.Completion, nil
			}
			if ev.Log != nil && onLog != nil {
				onLog(*ev.Log)
			}
		case <-done:
			done = nil
			e.Cancel(req.SessionID)
		}
	}
}

// Close cancels every in-flight session and waits until their completions
// were published or ctx is done. Start fails after Close.
func (e *Engine) Close(ctx context.Context) error {
	e.mx.Lock()
	e.closed = true
	e.mx.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) gitPath() (string, error) {
	if e.git != "" {
		return e.git, nil
	}
	path, err := exec.LookPath("git")
	if err != nil {
		return "", fmt.Errorf("%w: git: %w", model.ErrToolNotFound, err)
	}
	return path, nil
}

func isCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, model.ErrCancelled) || ctx.Err() != nil
}
