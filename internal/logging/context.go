package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	stepIDKey
	toolKeyKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// WithToolKey returns a context with the tool key set.
func WithToolKey(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolKeyKey, id)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// StepID extracts the step ID from the context, or "" if absent.
func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

// ToolKey extracts the tool key from the context, or "" if absent.
func ToolKey(ctx context.Context) string {
	v, _ := ctx.Value(toolKeyKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, runID, stepID, toolKey string) context.Context {
	ctx = WithRunID(ctx, runID)
	ctx = WithStepID(ctx, stepID)
	ctx = WithToolKey(ctx, toolKey)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if rID := RunID(ctx); rID != "" {
		logger = logger.With(slog.String("run_id", rID))
	}
	if sID := StepID(ctx); sID != "" {
		logger = logger.With(slog.String("step_id", sID))
	}
	if tk := ToolKey(ctx); tk != "" {
		logger = logger.With(slog.String("tool_key", tk))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := StepID(ctx); v != "" {
		r.AddAttrs(slog.String("step_id", v))
	}
	if v := ToolKey(ctx); v != "" {
		r.AddAttrs(slog.String("tool_key", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
