package model

import (
	"encoding/json"
	"time"
)

// EventType distinguishes normal customer messages from control events.
type EventType string

const (
	EventTypeMessage         EventType = "message"
	EventTypePricingApproval EventType = "pricing_approval"
	EventTypeDeadlineExpired EventType = "deadline_expired"
)

// Direction of an interaction record relative to the customer.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// InteractionEvent is the normalized form of one inbound delivery.
// Sequence is the per-session ordinal used for idempotency and ordering;
// the transport may redeliver or reorder, the sequence gate sorts it out.
type InteractionEvent struct {
	SessionID  string    `json:"session_id"`
	Channel    string    `json:"channel"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ApprovedBy string    `json:"approved_by,omitempty"` // pricing_approval only
}

// InteractionRecord is one append-only entry in a session's interaction log,
// strictly increasing in Sequence per session. Never mutated after creation;
// corrections are new records.
type InteractionRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      Direction `json:"direction"`
	PayloadRef     string    `json:"payload_ref,omitempty"`
	StageBefore    Stage     `json:"stage_before"`
	StageAfter     Stage     `json:"stage_after"`
	RuleIDsApplied []string  `json:"rule_ids_applied,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventLog is a raw inbound delivery persisted before processing, so
// redelivery and audit remain possible independent of the session log.
type EventLog struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	Channel         string          `json:"channel"`
	Sequence        int64           `json:"sequence"`
	EventType       EventType       `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	DedupeKey       string          `json:"dedupe_key"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
