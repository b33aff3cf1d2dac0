package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/stretchr/testify/require"
)

// popEntry decodes the last JSON line written to buf, without the time field
func popEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	require.Contains(t, entry, "time")
	delete(entry, "time")

	buf.Reset()
	return entry
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	t.Run("stored logger", func(t *testing.T) {
		t.Parallel()

		logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
		ctx := logging.AddToContext(t.Context(), logger)

		require.Equal(t, logger, logging.FromContext(ctx))
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		require.NotNil(t, logging.FromContext(t.Context()))
		logging.FromContext(t.Context()).Info("don't crash when no logger in context")
	})
}

func TestAddMetaToContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	root := slog.New(slog.NewJSONHandler(buf, nil)).With(slog.String("component", "gateway"))
	ctx := logging.AddToContext(t.Context(), root)

	ctx = logging.AddMetaToContext(ctx, slog.String("key", "GET /projects"))
	logging.FromContext(ctx).Info("first")
	require.Equal(t, map[string]any{
		"level":     "INFO",
		"msg":       "first",
		"component": "gateway",
		"key":       "GET /projects",
	}, popEntry(t, buf))

	ctx = logging.AddMetaToContext(ctx, slog.String("outcome", "join"))
	logging.FromContext(ctx).Info("second")
	require.Equal(t, map[string]any{
		"level":     "INFO",
		"msg":       "second",
		"component": "gateway",
		"key":       "GET /projects",
		"outcome":   "join",
	}, popEntry(t, buf))
}

func TestNewRootLogger(t *testing.T) {
	t.Parallel()

	require.True(t, logging.NewRootLogger(true, false).Enabled(t.Context(), slog.LevelDebug))
	require.False(t, logging.NewRootLogger(false, false).Enabled(t.Context(), slog.LevelDebug))
	require.True(t, logging.NewRootLogger(false, true).Enabled(t.Context(), slog.LevelInfo))
}
