package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	machineIDKey ctxKey = iota
	stateKey
	eventKey
)

// WithMachineID returns a context with the simulator instance ID set.
func WithMachineID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, machineIDKey, id)
}

// WithState returns a context with the active state path set.
func WithState(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, stateKey, path)
}

// WithEvent returns a context with the dispatched event name set.
func WithEvent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, eventKey, name)
}

// MachineID extracts the simulator instance ID from the context, or "" if absent.
func MachineID(ctx context.Context) string {
	v, _ := ctx.Value(machineIDKey).(string)
	return v
}

// State extracts the active state path from the context, or "" if absent.
func State(ctx context.Context) string {
	v, _ := ctx.Value(stateKey).(string)
	return v
}

// Event extracts the dispatched event name from the context, or "" if absent.
func Event(ctx context.Context) string {
	v, _ := ctx.Value(eventKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := MachineID(ctx); id != "" {
		logger = logger.With(slog.String("machine_id", id))
	}
	if s := State(ctx); s != "" {
		logger = logger.With(slog.String("state", s))
	}
	if e := Event(ctx); e != "" {
		logger = logger.With(slog.String("event", e))
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
	if v := MachineID(ctx); v != "" {
		r.AddAttrs(slog.String("machine_id", v))
	}
	if v := State(ctx); v != "" {
		r.AddAttrs(slog.String("state", v))
	}
	if v := Event(ctx); v != "" {
		r.AddAttrs(slog.String("event", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
