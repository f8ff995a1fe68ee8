package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification at info level.
func (l *LogSender) Send(ctx context.Context, title, message string) error {
	l.logger.InfoContext(ctx, "notification",
		slog.String("title", title),
		slog.String("message", message),
	)
	return nil
}

// Name returns the sender identifier.
func (l *LogSender) Name() string {
	return "log"
}
