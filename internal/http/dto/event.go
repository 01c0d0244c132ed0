package dto

import "time"

// IngestEventRequest is the webhook body for one channel delivery.
type IngestEventRequest struct {
	SessionID       string    `json:"session_id" binding:"required"`
	Sequence        int64     `json:"sequence,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	EventType       string    `json:"event_type,omitempty"`
	Text            string    `json:"text,omitempty"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
}

type IngestEventResponse struct {
	EventLogID int64  `json:"event_log_id"`
	DedupeKey  string `json:"dedupe_key"`
	Enqueued   bool   `json:"enqueued"`
	Duplicated bool   `json:"duplicated"`
}

// ApproveRequest records a manager's pricing approval.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}
