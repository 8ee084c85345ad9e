package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/engine"
	"github.com/DevJayantaGhosh/sherlock/internal/log"
	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/telemetry"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withEngine runs fn with an engine which lives until fn returns. The
// context passed to fn is done on SIGINT or SIGTERM.
func withEngine(cmd *cobra.Command, fn func(context.Context, *engine.Engine) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("sherlock",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	))

	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
	}
	res := telemetry.NewResource("sherlock", version)
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProvider(res, reader)
	tp := telemetry.NewTracerProvider(res)

	e, err := engine.New(config, engine.WithMeterProvider(mp), engine.WithTracerProvider(tp))
	if err != nil {
		return err
	}
	defer func() {
		// sessions are finished here, the grace covers a late Close only
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Cancel.Grace+5*time.Second)
		defer cancel()
		err = errors.Join(err, e.Close(closeCtx))
		logMetrics(closeCtx, reader)
		err = errors.Join(err, mp.Shutdown(closeCtx), tp.Shutdown(closeCtx))
	}()
	return fn(ctx, e)
}

// runSession runs req and prints its log events and the completion as JSON
// lines. A session without success is returned as an error.
func runSession(ctx context.Context, cmd *cobra.Command, e *engine.Engine, req engine.Request) (model.Completion, error) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	ctx = log.ContextAttrs(ctx, slog.String("session_id", req.SessionID))
	slog.DebugContext(ctx, "starting session", "kind", req.Kind)

	c, err := e.Run(ctx, req, func(ev model.LogEvent) {
		if err := enc.Encode(ev); err != nil {
			slog.WarnContext(ctx, "writing log event", "error", err)
		}
	})
	if err != nil {
		return model.Completion{}, err
	}
	if c.Cancelled {
		// give killed process trees a moment to release the working copy
		time.Sleep(config.Cancel.Grace)
	}
	if err := enc.Encode(c); err != nil {
		return c, fmt.Errorf("writing completion: %w", err)
	}
	if !c.Success {
		return c, fmt.Errorf("session %s: %s", c.SessionID, c.Error)
	}
	return c, nil
}

func logMetrics(ctx context.Context, reader *sdkmetric.ManualReader) {
	if !config.Service.Verbose {
		return
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		slog.WarnContext(ctx, "collecting metrics", "error", err)
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				slog.DebugContext(ctx, "metric", "name", m.Name, "value", total)
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				slog.DebugContext(ctx, "metric", "name", m.Name, "count", count, "sum", sum)
			}
		}
	}
}
