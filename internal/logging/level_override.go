package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler raises the minimum level for one logger without touching
// the shared handler, which stays at the most verbose level any consumer
// needs.
type minLevelHandler struct {
	next  slog.Handler
	level slog.Level
}

// WithLevelOverride returns a logger that enforces the provided minimum
// level while preserving existing attributes and handler wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return slog.New(NoopHandler{})
	}
	if existing, ok := logger.Handler().(*minLevelHandler); ok {
		return slog.New(&minLevelHandler{next: existing.next, level: level})
	}
	return slog.New(&minLevelHandler{next: logger.Handler(), level: level})
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), level: h.level}
}
