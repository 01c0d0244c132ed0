package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderflow.app/engine/common/id"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/queue"
	"orderflow.app/engine/internal/store"
)

var ErrInvalidEvent = errors.New("invalid event")

// EventIngestParams is one inbound delivery from a channel webhook.
// Sequence is the channel's per-session ordinal; channels that don't number
// their messages leave it zero and the event timestamp (unix millis) is used,
// which preserves ordering as long as the channel is consistent about it.
type EventIngestParams struct {
	Channel         string          `json:"channel"`
	SessionID       string          `json:"session_id"`
	Sequence        int64           `json:"sequence,omitempty"`
	Timestamp       time.Time       `json:"timestamp,omitempty"`
	EventType       model.EventType `json:"event_type,omitempty"`
	Text            string          `json:"text,omitempty"`
	ExternalEventID *string         `json:"external_event_id,omitempty"`
	DedupeKey       *string         `json:"dedupe_key,omitempty"`
	TraceID         *string         `json:"trace_id,omitempty"`
}

type EventIngestResult struct {
	EventLog   *model.EventLog
	DedupeKey  string
	Enqueued   bool
	Duplicated bool
}

type EventIngestService interface {
	Ingest(ctx context.Context, params EventIngestParams) (*EventIngestResult, error)
	Approve(ctx context.Context, sessionID, approvedBy string, traceID *string) (*EventIngestResult, error)
}

type eventIngestService struct {
	stores *store.Stores
	queue  queue.Producer
	logger *slog.Logger
}

func NewEventIngestService(stores *store.Stores, producer queue.Producer, logger *slog.Logger) EventIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventIngestService{
		stores: stores,
		queue:  producer,
		logger: logger,
	}
}

// Ingest persists the delivery as an event log and enqueues it for the
// worker. The dedupe key makes redelivered webhooks return the original row
// without enqueueing a second time.
func (s *eventIngestService) Ingest(ctx context.Context, params EventIngestParams) (*EventIngestResult, error) {
	if params.Channel == "" || params.SessionID == "" {
		return nil, fmt.Errorf("%w: channel and session_id are required", ErrInvalidEvent)
	}

	eventType := params.EventType
	if eventType == "" {
		eventType = model.EventTypeMessage
	}
	if eventType != model.EventTypeMessage && eventType != model.EventTypePricingApproval {
		return nil, fmt.Errorf("%w: event type %q not accepted from channels", ErrInvalidEvent, eventType)
	}

	timestamp := params.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	sequence := params.Sequence
	if sequence <= 0 {
		sequence = timestamp.UnixMilli()
	}

	event := model.InteractionEvent{
		SessionID: params.SessionID,
		Channel:   params.Channel,
		Sequence:  sequence,
		Timestamp: timestamp,
		Type:      eventType,
		Text:      params.Text,
	}

	return s.ingestEvent(ctx, event, params.ExternalEventID, params.DedupeKey, params.TraceID)
}

// Approve records a manager's pricing approval as a control event on the
// session. The sequence slots in right after the last applied event; if a
// customer message wins that slot concurrently, the approval no-ops and the
// session stays awaiting, visible to the manager for a retry.
func (s *eventIngestService) Approve(ctx context.Context, sessionID, approvedBy string, traceID *string) (*EventIngestResult, error) {
	if sessionID == "" || approvedBy == "" {
		return nil, fmt.Errorf("%w: session_id and approved_by are required", ErrInvalidEvent)
	}

	state, err := s.stores.Sessions().Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	event := model.InteractionEvent{
		SessionID:  sessionID,
		Channel:    state.Channel,
		Sequence:   state.LastSequence + 1,
		Timestamp:  time.Now().UTC(),
		Type:       model.EventTypePricingApproval,
		ApprovedBy: approvedBy,
	}

	dedupeKey := fmt.Sprintf("approval:%s:%d", sessionID, event.Sequence)
	return s.ingestEvent(ctx, event, nil, &dedupeKey, traceID)
}

func (s *eventIngestService) ingestEvent(ctx context.Context, event model.InteractionEvent, externalEventID, dedupeOverride, traceID *string) (*EventIngestResult, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}

	dedupeKey, err := computeDedupeKey(event, externalEventID, payload, dedupeOverride)
	if err != nil {
		return nil, err
	}

	eventLog, created, err := s.stores.EventLogs().CreateOrGet(ctx, &model.EventLog{
		ID:        id.New(),
		SessionID: event.SessionID,
		Channel:   event.Channel,
		Sequence:  event.Sequence,
		EventType: event.Type,
		Payload:   payload,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event log: %w", err)
	}

	enqueued := false
	if created {
		if err := s.queue.Enqueue(ctx, queue.EventMessage{
			EventLogID: eventLog.ID,
			SessionID:  event.SessionID,
			Sequence:   event.Sequence,
			EventType:  string(event.Type),
			TraceID:    traceID,
			Attempt:    1,
		}); err != nil {
			return nil, fmt.Errorf("enqueueing event: %w", err)
		}
		enqueued = true
	} else {
		s.logger.InfoContext(ctx, "duplicate event deduped",
			"event_log_id", eventLog.ID,
			"session_id", event.SessionID,
			"sequence", event.Sequence,
			"dedupe_key", dedupeKey)
	}

	return &EventIngestResult{
		EventLog:   eventLog,
		DedupeKey:  dedupeKey,
		Enqueued:   enqueued,
		Duplicated: !created,
	}, nil
}

func computeDedupeKey(event model.InteractionEvent, externalEventID *string, payload json.RawMessage, override *string) (string, error) {
	if override != nil && *override != "" {
		return *override, nil
	}

	if externalEventID != nil && *externalEventID != "" {
		return fmt.Sprintf("%s:%s:%s", event.Channel, event.Type, *externalEventID), nil
	}

	body := struct {
		Channel   string          `json:"channel"`
		EventType model.EventType `json:"event_type"`
		SessionID string          `json:"session_id"`
		Sequence  int64           `json:"sequence"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}{
		Channel:   event.Channel,
		EventType: event.Type,
		SessionID: event.SessionID,
		Sequence:  event.Sequence,
		Payload:   payload,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal dedupe payload: %w", err)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s", event.Channel, hex.EncodeToString(hash[:])), nil
}
