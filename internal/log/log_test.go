package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/DevJayantaGhosh/sherlock/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("session_id", "s1"))
	a := log.ContextAttrs(ctx, slog.String("kind", "clone"))
	b := log.ContextAttrs(ctx, slog.String("kind", "sast"))

	logger.InfoContext(a, "first")
	logger.DebugContext(b, "hidden")
	logger.With("x", 1).InfoContext(b, "second")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "s1", first["session_id"])
	require.Equal(t, "clone", first["kind"])
	require.Equal(t, "sast", second["kind"])
	require.EqualValues(t, 1, second["x"])
}

func TestOutput(t *testing.T) {
	t.Parallel()
	require.NotNil(t, log.Output("stderr"))
	require.NotNil(t, log.Output("discard"))

	path := filepath.Join(t.TempDir(), "sherlock.log")
	w := log.Output(path)
	logger := log.New(w, true)
	logger.Debug("written")
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"written"`)
}
