package outbound

import (
	"context"
	"log/slog"

	"orderflow.app/engine/common/logger"
)

// LogSender writes outbound messages to the log instead of a real channel.
// Default in development and in deployments without a messaging provider;
// the interaction log still records everything that would have been sent.
type LogSender struct{}

var _ MessageSender = LogSender{}

func (LogSender) Send(ctx context.Context, channel, sessionID, text string) error {
	slog.InfoContext(ctx, "outbound message",
		"channel", channel,
		"session_id", sessionID,
		"text", logger.Truncate(text, 500))
	return nil
}

// LogSink logs escalations. Production deployments swap in a pager or ops
// channel integration.
type LogSink struct{}

var _ EscalationSink = LogSink{}

func (LogSink) Escalate(ctx context.Context, sessionID, channel, reason string) error {
	slog.WarnContext(ctx, "escalation",
		"session_id", sessionID,
		"channel", channel,
		"reason", reason)
	return nil
}
