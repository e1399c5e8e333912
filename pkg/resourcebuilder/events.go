package resourcebuilder

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// ResourceAdded does nothing and returns nil
func (n *NoopEventSink) ResourceAdded(ctx context.Context, path string) error {
	return nil
}

// ResourceChanged does nothing and returns nil
func (n *NoopEventSink) ResourceChanged(ctx context.Context, path string, properties []string) error {
	return nil
}

// ResourceRemoved does nothing and returns nil
func (n *NoopEventSink) ResourceRemoved(ctx context.Context, path string) error {
	return nil
}

// LoggingEventSink writes every committed change to a structured logger
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates an event sink logging at info level. A nil
// logger means slog.Default().
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) ResourceAdded(ctx context.Context, path string) error {
	l.logger.InfoContext(ctx, "resource added", "path", path)
	return nil
}

func (l *LoggingEventSink) ResourceChanged(ctx context.Context, path string, properties []string) error {
	l.logger.InfoContext(ctx, "resource changed", "path", path, "properties", properties)
	return nil
}

func (l *LoggingEventSink) ResourceRemoved(ctx context.Context, path string) error {
	l.logger.InfoContext(ctx, "resource removed", "path", path)
	return nil
}
