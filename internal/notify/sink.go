// Package notify delivers storage warning notifications to registered
// sinks. Delivery is best-effort: the monitor records persistent failures
// but never lets a sink stall the monitoring loop.
package notify

import (
	"context"
	"log/slog"

	"github.com/captionhq/storage-quota/pkg/model"
)

// Sink receives each newly created notification. Implementations must be
// safe for concurrent use and should honor ctx cancellation.
type Sink interface {
	// Name identifies the sink in logs and failure events.
	Name() string
	// Notify delivers one notification.
	Notify(ctx context.Context, n *model.WarningNotification) error
}

// LogSink writes notifications to the structured log. It is the default
// sink and never fails.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Name() string { return "log" }

// Notify logs the notification at a level matching its severity.
func (s *LogSink) Notify(ctx context.Context, n *model.WarningNotification) error {
	attrs := []any{
		"id", n.ID,
		"severity", string(n.Severity),
		"usage_gb", n.TotalGB,
		"limit_gb", n.LimitGB,
		"usage_percent", n.UsagePercent,
	}
	switch n.Severity {
	case model.SeverityCritical:
		slog.Error(n.Message, attrs...)
	default:
		slog.Warn(n.Message, attrs...)
	}
	return nil
}
