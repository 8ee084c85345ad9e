package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler adds the attributes stored by ContextAttrs to every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	// copy so sibling contexts never share a backing array
	a = append(a[:len(a):len(a)], attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// New returns a JSON logger writing to w.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	ctxHandler := NewContextHandler(base)
	return slog.New(ctxHandler)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Output resolves the service.log destination: stderr, stdout, discard or
// a file path, which is rotated by lumberjack.
func Output(dest string) io.WriteCloser {
	switch dest {
	case "", "stderr":
		return nopCloser{os.Stderr}
	case "stdout":
		return nopCloser{os.Stdout}
	case "discard":
		return nopCloser{io.Discard}
	default:
		return &lumberjack.Logger{
			Filename:   dest,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
	}
}
