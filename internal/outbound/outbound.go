// Package outbound delivers the side effects a transition produced: customer
// messages and operator escalations. Delivery runs after the transition is
// persisted and is strictly best-effort; a failed send never rolls back state
// or blocks the event pipeline.
package outbound

import (
	"context"
	"log/slog"
	"time"

	"orderflow.app/engine/common/logger"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/render"
)

// MessageSender pushes one message to the customer's channel.
type MessageSender interface {
	Send(ctx context.Context, channel, sessionID, text string) error
}

// EscalationSink notifies operators: human-agent requests, pricing-approval
// requests, blown acknowledgment deadlines.
type EscalationSink interface {
	Escalate(ctx context.Context, sessionID, channel, reason string) error
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Emitter fans transition actions out to the configured sender and sink,
// phrasing messages through the renderer first.
type Emitter struct {
	renderer render.Renderer
	sender   MessageSender
	sink     EscalationSink
	cfg      Config
}

func NewEmitter(renderer render.Renderer, sender MessageSender, sink EscalationSink, cfg Config) *Emitter {
	if renderer == nil {
		renderer = render.Static{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Emitter{
		renderer: renderer,
		sender:   sender,
		sink:     sink,
		cfg:      cfg,
	}
}

// Emit delivers every action. Failures are logged and swallowed: the
// transition is already durable, and the interaction log is the source of
// truth for what should have been sent.
func (e *Emitter) Emit(ctx context.Context, actions []flow.OutboundAction) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.outbound",
	})

	for _, action := range actions {
		switch action.Kind {
		case model.ActionSendMessage:
			e.sendMessage(ctx, action)
		case model.ActionEscalate:
			e.escalate(ctx, action, "human agent requested")
		case model.ActionRequestApproval:
			e.escalate(ctx, action, "pricing approval requested: "+action.Text)
		}
	}
}

func (e *Emitter) sendMessage(ctx context.Context, action flow.OutboundAction) {
	text, err := e.renderer.Render(ctx, action)
	if err != nil || text == "" {
		// The composed text is always sendable; rendering only rewords it.
		slog.WarnContext(ctx, "render failed, sending composed text",
			"session_id", action.SessionID,
			"error", err)
		text = action.Text
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if lastErr = e.sender.Send(ctx, action.Channel, action.SessionID, text); lastErr == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		slog.WarnContext(ctx, "message delivery failed, retrying",
			"session_id", action.SessionID,
			"attempt", attempt,
			"error", lastErr)
		time.Sleep(e.cfg.RetryDelay * time.Duration(attempt))
	}

	slog.ErrorContext(ctx, "message delivery exhausted retries",
		"session_id", action.SessionID,
		"channel", action.Channel,
		"stage", string(action.Stage),
		"error", lastErr)
}

func (e *Emitter) escalate(ctx context.Context, action flow.OutboundAction, reason string) {
	if err := e.sink.Escalate(ctx, action.SessionID, action.Channel, reason); err != nil {
		slog.ErrorContext(ctx, "escalation delivery failed",
			"session_id", action.SessionID,
			"reason", reason,
			"error", err)
	}
}
