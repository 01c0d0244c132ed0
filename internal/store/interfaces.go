package store

import (
	"context"
	"errors"
	"time"

	"orderflow.app/engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write loses the version race.
// Callers re-load and re-evaluate; the write was not partially applied.
var ErrConflict = errors.New("version conflict")

// SessionStore is the typed view over the durable store for session state.
// AppendAndSave is the only mutation path: the state update and the
// interaction-log append either both happen or neither does.
type SessionStore interface {
	// Load returns the current state. An absent session yields a fresh
	// zero-value state with Version 0 (not-yet-created), not ErrNotFound.
	Load(ctx context.Context, sessionID string) (*model.SessionState, error)

	// AppendAndSave persists the new state and appends the interaction
	// record atomically, conditional on expectedVersion. Returns
	// ErrConflict on a version mismatch or a duplicate sequence append.
	AppendAndSave(ctx context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error

	// ListExpiredAck returns sessions whose acknowledgment deadline has
	// elapsed, for the background sweep.
	ListExpiredAck(ctx context.Context, now time.Time, limit int32) ([]model.SessionState, error)
}

// InteractionStore reads the append-only interaction log.
type InteractionStore interface {
	ListBySession(ctx context.Context, sessionID string, limit int32) ([]model.InteractionRecord, error)
}

// EventLogStore persists raw inbound deliveries before processing.
type EventLogStore interface {
	// CreateOrGet inserts the event log, or returns the existing row when
	// the dedupe key has been seen. The bool reports whether a new row
	// was created.
	CreateOrGet(ctx context.Context, log *model.EventLog) (*model.EventLog, bool, error)
	GetByID(ctx context.Context, id int64) (*model.EventLog, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}
