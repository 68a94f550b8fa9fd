package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingLogger(buf *bytes.Buffer, level slog.Level) (*slog.Logger, *LogCollector) {
	collector := NewLogCollector()
	underlying := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewCapturingHandler(underlying, collector, "step-1")), collector
}

func TestCapturingHandler_CapturesAndPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger, collector := newCapturingLogger(&buf, slog.LevelInfo)

	logger.Info("creating account", "email", "alice@school.org", "attempt", 2)

	logs := collector.Entries("step-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0].Level)
	assert.Equal(t, "creating account", logs[0].Message)
	assert.Equal(t, "alice@school.org", logs[0].Attributes["email"])
	assert.Equal(t, int64(2), logs[0].Attributes["attempt"])

	assert.Contains(t, buf.String(), "creating account")
}

func TestCapturingHandler_CapturesBelowUnderlyingLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, collector := newCapturingLogger(&buf, slog.LevelWarn)

	logger.Debug("pacing", "delay", "500ms")
	logger.Info("called identity provider")
	logger.Warn("invitation not sent")
	logger.Error("step failed")

	logs := collector.Entries("step-1")
	require.Len(t, logs, 4)
	assert.Equal(t, []string{"DEBUG", "INFO", "WARN", "ERROR"},
		[]string{logs[0].Level, logs[1].Level, logs[2].Level, logs[3].Level})

	out := buf.String()
	assert.NotContains(t, out, "pacing")
	assert.NotContains(t, out, "called identity provider")
	assert.Contains(t, out, "invitation not sent")
	assert.Contains(t, out, "step failed")
}

func TestCapturingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, collector := newCapturingLogger(&buf, slog.LevelInfo)

	logger.With("component", "task").With("kind", "create_user").Info("started", "index", 3)

	logs := collector.Entries("step-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "task", logs[0].Attributes["component"])
	assert.Equal(t, "create_user", logs[0].Attributes["kind"])
	assert.Equal(t, int64(3), logs[0].Attributes["index"])
}

func TestCapturingHandler_DerivedHandlersKeepCapturing(t *testing.T) {
	collector := NewLogCollector()
	h := NewCapturingHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), collector, "step-9")

	withAttrs, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*CapturingHandler)
	require.True(t, ok)
	assert.Equal(t, "step-9", withAttrs.key)

	withGroup, ok := h.WithGroup("request").(*CapturingHandler)
	require.True(t, ok)
	assert.Equal(t, collector, withGroup.collector)

	assert.Same(t, h, h.WithGroup(""))
}

func TestCapturingHandler_GroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, collector := newCapturingLogger(&buf, slog.LevelInfo)

	logger.WithGroup("request").With("email", "bob@school.org").Info("received", "users", 2)

	logs := collector.Entries("step-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "bob@school.org", logs[0].Attributes["request.email"])
	assert.Equal(t, int64(2), logs[0].Attributes["request.users"])
	assert.Contains(t, buf.String(), `"request"`)
}

func TestCapturingHandler_ValueKinds(t *testing.T) {
	var buf bytes.Buffer
	logger, collector := newCapturingLogger(&buf, slog.LevelInfo)

	logger.Info("kinds",
		"error", errors.New("identity provider unavailable"),
		"ok", true,
		"ratio", 0.5,
		slog.Group("user", "name", "Alice"),
	)

	attrs := collector.Entries("step-1")[0].Attributes
	assert.Equal(t, "identity provider unavailable", attrs["error"])
	assert.Equal(t, true, attrs["ok"])
	assert.InDelta(t, 0.5, attrs["ratio"], 0.001)
	assert.Equal(t, map[string]interface{}{"name": "Alice"}, attrs["user"])
}

func TestCapturingHandler_ConcurrentLogging(t *testing.T) {
	logger, collector := newCapturingLogger(&bytes.Buffer{}, slog.LevelInfo)

	const goroutines = 20
	const perGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				logger.Info("concurrent", "goroutine", id, "n", j)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, collector.Entries("step-1"), goroutines*perGoroutine)
}
