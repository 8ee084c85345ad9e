package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DevJayantaGhosh/sherlock/internal/clone"
	"github.com/DevJayantaGhosh/sherlock/internal/log"
	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/proc"
	"github.com/DevJayantaGhosh/sherlock/internal/progress"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run is the pipeline of one session: locate the tool, resolve the working
// copy, spawn and stream, parse and render. ctx is cancelled by Cancel or
// Close, pub is only used to deliver events.
func (e *Engine) run(ctx, pub context.Context, s *session, req Request) (c model.Completion) {
	ctx = log.ContextAttrs(ctx,
		slog.String("session_id", req.SessionID),
		slog.String("kind", string(req.Kind)),
		slog.String("process_key", model.ProcessKey(req.SessionID)),
	)
	ctx, span := e.tracer.Start(ctx, "engine.session", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("kind", string(req.Kind)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Bool("success", c.Success),
			attribute.Bool("cancelled", c.Cancelled),
		)
		if !c.Success {
			span.SetStatus(codes.Error, c.Error)
		}
		span.End()
	}()

	t := tasks[req.Kind]
	plan := e.progress.Plan(req.Kind)
	c = model.Completion{SessionID: req.SessionID, Kind: req.Kind}
	s.transition(model.StateRunning)

	emit := func(line string, p int, stream model.Stream) {
		s.setProgress(p)
		e.bus.PublishLog(pub, model.LogEvent{SessionID: req.SessionID, Log: line, Progress: p, Stream: stream})
	}
	fail := func(err error) model.Completion {
		c.Progress = s.progress()
		if isCancelled(ctx, err) {
			s.transition(model.StateCancelled)
			c.Cancelled = true
			c.Error = model.ErrCancelled.Error()
			slog.InfoContext(ctx, "session cancelled")
			return c
		}
		s.transition(model.StateFailed)
		span.RecordError(err)
		c.Error = err.Error()
		slog.ErrorContext(ctx, "session failed", "error", err)
		return c
	}

	// the tool is located before anything touches the disk or the process table
	var tool string
	if req.Kind != model.KindClone {
		var err error
		tool, err = e.locate(t)
		if err != nil {
			return fail(err)
		}
	}

	var workdir string
	if t.repo {
		res, err := e.cloner.Resolve(ctx, req.SessionID, req.Repository, clone.Emit(emit))
		if err != nil {
			return fail(err)
		}
		workdir = res.Path
		c.Path, c.Cached, c.Head = res.Path, res.Cached, res.Head
		if req.Kind == model.KindClone {
			if s.exit() {
				return fail(model.ErrCancelled)
			}
			// a cache hit was already confirmed by the coordinator
			if !res.Cached {
				emit("working copy ready at "+res.Path, plan.Done, model.StreamEngine)
			}
			return e.succeed(s, c, plan)
		}
	}

	inv, err := t.prepare(tool, workdir, req)
	if err != nil {
		return fail(err)
	}
	inv.cmd.Key = model.ProcessKey(req.SessionID)
	inv.cmd.Timeout = e.scanTimeout

	tracker := plan.Scan.Tracker()
	emit(fmt.Sprintf("running %s", req.Kind), tracker.Current(), model.StreamEngine)
	var output []string
	s.spawn()
	exit, err := e.runner.Run(ctx, inv.cmd, func(ch proc.Chunk) {
		output = append(output, ch.Line)
		emit(ch.Line, tracker.Next(), ch.Stream)
	})
	cancelled := s.exit()
	if err != nil {
		return fail(err)
	}
	switch {
	case cancelled || exit.Cancelled || ctx.Err() != nil:
		return fail(model.ErrCancelled)
	case exit.TimedOut:
		return fail(fmt.Errorf("%w: %s did not finish within %s", model.ErrTimeout, req.Kind, e.scanTimeout))
	case !t.accept(exit.Code):
		return fail(fmt.Errorf("%s exited with code %d", req.Kind, exit.Code))
	}
	c.ReportPath = inv.report

	lines, err := t.parse(parsed{inv: inv, workdir: workdir, output: output, window: e.window}, &c)
	if err != nil {
		// a broken report degrades the summary, the session still succeeds
		slog.WarnContext(ctx, "parsing report", "path", inv.report, "error", err)
		span.RecordError(err)
		lines = []string{"report unavailable: " + err.Error()}
	}
	render := plan.Render.Tracker()
	for _, line := range lines {
		emit(line, render.Next(), model.StreamEngine)
	}
	return e.succeed(s, c, plan)
}

func (e *Engine) succeed(s *session, c model.Completion, plan progress.Plan) model.Completion {
	s.transition(model.StateSucceeded)
	s.setProgress(plan.Done)
	c.Success = true
	c.Progress = plan.Done
	return c
}

func (e *Engine) locate(t task) (string, error) {
	if t.tool == "" {
		return e.gitPath()
	}
	path, ok := e.locator.Locate(t.tool)
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrToolNotFound, e.locator.Path(t.tool))
	}
	return path, nil
}
