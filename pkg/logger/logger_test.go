package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novakit/opqueue/pkg/logger"
	"github.com/novakit/opqueue/pkg/queue"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestNew_Defaults(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf))

	log.Debug("hidden") // below the default info level
	assert.Empty(t, buf.Bytes())

	log.Info("visible", slog.String("key", "value"))
	line := logLine(t, &buf)
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "value", line["key"])
}

func TestNew_StaticAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithAttr(slog.String("service", "opqueue")),
	)

	log.Info("hello")
	assert.Equal(t, "opqueue", logLine(t, &buf)["service"])
}

func TestNew_EmitsOperationID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf))

	opID := uuid.New()
	ctx := queue.ContextWithOperationID(context.Background(), opID)
	log.InfoContext(ctx, "inside drain pass")

	assert.Equal(t, opID.String(), logLine(t, &buf)["operation_id"])

	buf.Reset()
	log.InfoContext(context.Background(), "outside drain pass")
	assert.NotContains(t, logLine(t, &buf), "operation_id")
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithTextFormat(),
		logger.WithLevel(slog.LevelDebug),
	)

	log.Debug("dev message")
	assert.Contains(t, buf.String(), "msg=\"dev message\"")
}

func TestNew_CustomExtractor(t *testing.T) {
	type userKey struct{}

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
			if v, ok := ctx.Value(userKey{}).(string); ok {
				return slog.String("user_id", v), true
			}
			return slog.Attr{}, false
		}),
	)

	ctx := context.WithValue(context.Background(), userKey{}, "user-1")
	log.InfoContext(ctx, "hello")
	assert.Equal(t, "user-1", logLine(t, &buf)["user_id"])
}
