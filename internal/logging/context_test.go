package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", StepID(ctx))
	assert.Equal(t, "", ToolKey(ctx))

	// Set values.
	ctx = WithRunID(ctx, "run-123")
	ctx = WithStepID(ctx, "step-1")
	ctx = WithToolKey(ctx, "clickup")

	// Round-trip.
	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "step-1", StepID(ctx))
	assert.Equal(t, "clickup", ToolKey(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithRunID(ctx, "run-abc")
	ctx = WithStepID(ctx, "step-x")
	ctx = WithToolKey(ctx, "jira")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "step_id=step-x")
	assert.Contains(t, output, "tool_key=jira")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set the run ID — step and tool key should not appear.
	ctx := WithRunID(context.Background(), "run-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-only")
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tool_key")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// No correlation IDs — no extra attrs.
	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tool_key")
	assert.Contains(t, output, "no context")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "run-1", "step-2", "clickup")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "step-2", StepID(ctx))
	assert.Equal(t, "clickup", ToolKey(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "run-auto", "step-auto", "clickup")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-auto"`)
	assert.Contains(t, output, `"step_id":"step-auto"`)
	assert.Contains(t, output, `"tool_key":"clickup"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tool_key")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithRunID(context.Background(), "run-only")
	logger.InfoContext(ctx, "partial")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-only"`)
	assert.NotContains(t, output, "step_id")
	assert.NotContains(t, output, "tool_key")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	ctx := WithRunID(context.Background(), "run-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"run_id":"run-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("engine"))

	ctx := WithRunID(context.Background(), "run-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "run-grp")
	assert.Contains(t, output, "grouped")
}
