// Package dispatch drives one event through the pipeline: load the durable
// session, run the transition function, persist conditionally, then emit
// side effects. The conditional write plus the sequence gate give
// exactly-once effect on top of at-least-once delivery.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"orderflow.app/engine/common/logger"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/queue"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/store"
)

// ErrSessionContention is returned when the conditional write kept losing the
// version race past the retry budget. Retryable: the queue redelivers.
var ErrSessionContention = errors.New("session contention")

// ActionEmitter delivers the side effects of an applied transition.
type ActionEmitter interface {
	Emit(ctx context.Context, actions []flow.OutboundAction)
}

type Config struct {
	DomainKey  string
	MaxRetries int
}

type Dispatcher struct {
	sessions  store.SessionStore
	eventLogs store.EventLogStore
	resolver  rules.Resolver
	machine   *flow.Machine
	emitter   ActionEmitter
	cfg       Config
}

func New(sessions store.SessionStore, eventLogs store.EventLogStore, resolver rules.Resolver, machine *flow.Machine, emitter ActionEmitter, cfg Config) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Dispatcher{
		sessions:  sessions,
		eventLogs: eventLogs,
		resolver:  resolver,
		machine:   machine,
		emitter:   emitter,
		cfg:       cfg,
	}
}

// Handle processes one queue message to completion.
//
// Malformed events are marked failed and returned wrapped in
// flow.ErrMalformedEvent so the worker dead-letters them without retrying.
// Everything else that errors is retryable via redelivery; the sequence gate
// makes reprocessing after a partial failure harmless.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "engine.dispatch",
		SessionID:  &msg.SessionID,
		Sequence:   &msg.Sequence,
		EventLogID: &msg.EventLogID,
		EventType:  &msg.EventType,
	})

	eventLog, err := d.eventLogs.GetByID(ctx, msg.EventLogID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: event log %d not found", flow.ErrMalformedEvent, msg.EventLogID)
		}
		return fmt.Errorf("loading event log: %w", err)
	}
	if eventLog.ProcessedAt != nil {
		slog.InfoContext(ctx, "event log already processed, skipping")
		return nil
	}

	var event model.InteractionEvent
	if err := json.Unmarshal(eventLog.Payload, &event); err != nil {
		wrapped := fmt.Errorf("%w: decoding payload: %v", flow.ErrMalformedEvent, err)
		d.markFailed(ctx, eventLog.ID, wrapped)
		return wrapped
	}

	ruleset, err := d.resolver.Resolve(ctx, d.cfg.DomainKey)
	if err != nil {
		return fmt.Errorf("resolving ruleset: %w", err)
	}
	if ruleset.Degraded {
		slog.WarnContext(ctx, "processing with degraded ruleset",
			"domain_key", ruleset.DomainKey,
			"etag", ruleset.ETag)
	}

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		applied, actions, err := d.step(ctx, ruleset, event)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				slog.InfoContext(ctx, "conditional write lost version race, retrying",
					"attempt", attempt)
				continue
			}
			if errors.Is(err, flow.ErrMalformedEvent) {
				d.markFailed(ctx, eventLog.ID, err)
			}
			return err
		}

		d.markProcessed(ctx, eventLog.ID)
		if applied {
			d.emitter.Emit(ctx, actions)
		} else {
			slog.InfoContext(ctx, "event at or below session sequence, no-op")
		}
		return nil
	}

	return fmt.Errorf("session %s seq %d: %w", event.SessionID, event.Sequence, ErrSessionContention)
}

// step runs one load-transition-save cycle. A store.ErrConflict means a
// concurrent writer advanced the session first; the caller reloads and
// re-evaluates against the fresh state.
func (d *Dispatcher) step(ctx context.Context, ruleset *model.RuleSet, event model.InteractionEvent) (bool, []flow.OutboundAction, error) {
	state, err := d.sessions.Load(ctx, event.SessionID)
	if err != nil {
		return false, nil, fmt.Errorf("loading session: %w", err)
	}

	transition, err := d.machine.Step(state, ruleset, event)
	if err != nil {
		return false, nil, err
	}
	if !transition.Applied {
		return false, nil, nil
	}

	if err := d.sessions.AppendAndSave(ctx, state.Version, transition.State, transition.Record); err != nil {
		return false, nil, err
	}

	slog.InfoContext(ctx, "transition applied",
		"stage_before", string(transition.Record.StageBefore),
		"stage_after", string(transition.Record.StageAfter),
		"rule_ids", transition.Record.RuleIDsApplied,
		"actions", len(transition.Actions))

	return true, transition.Actions, nil
}

// markProcessed failures are logged, not returned: redelivery would hit the
// sequence gate and no-op, so an unprocessed flag costs one wasted read.
func (d *Dispatcher) markProcessed(ctx context.Context, id int64) {
	if err := d.eventLogs.MarkProcessed(ctx, id); err != nil {
		slog.WarnContext(ctx, "failed to mark event log processed", "error", err)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, id int64, cause error) {
	if err := d.eventLogs.MarkFailed(ctx, id, cause.Error()); err != nil {
		slog.WarnContext(ctx, "failed to mark event log failed", "error", err)
	}
}
