package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow.app/engine/internal/model"
)

type eventLogStore struct {
	q Querier
}

func newEventLogStore(q Querier) EventLogStore {
	return &eventLogStore{q: q}
}

const eventLogColumns = `id, session_id, channel, sequence, event_type, payload,
	dedupe_key, processed_at, processing_error, created_at`

func (s *eventLogStore) CreateOrGet(ctx context.Context, log *model.EventLog) (*model.EventLog, bool, error) {
	// Upsert on the dedupe key: redelivered events return the existing row.
	row := s.q.QueryRow(ctx, `
		INSERT INTO event_logs (id, session_id, channel, sequence, event_type, payload, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO UPDATE SET dedupe_key = EXCLUDED.dedupe_key
		RETURNING `+eventLogColumns,
		log.ID, log.SessionID, log.Channel, log.Sequence, log.EventType, log.Payload, log.DedupeKey)

	stored, err := scanEventLog(row)
	if err != nil {
		return nil, false, fmt.Errorf("upserting event log: %w", err)
	}
	created := stored.ID == log.ID
	return stored, created, nil
}

func (s *eventLogStore) GetByID(ctx context.Context, id int64) (*model.EventLog, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+eventLogColumns+` FROM event_logs WHERE id = $1`, id)

	log, err := scanEventLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching event log: %w", err)
	}
	return log, nil
}

func (s *eventLogStore) MarkProcessed(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE event_logs SET processed_at = now(), processing_error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking event log processed: %w", err)
	}
	return nil
}

func (s *eventLogStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE event_logs SET processing_error = $2 WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("marking event log failed: %w", err)
	}
	return nil
}

func scanEventLog(row pgx.Row) (*model.EventLog, error) {
	var log model.EventLog
	err := row.Scan(&log.ID, &log.SessionID, &log.Channel, &log.Sequence,
		&log.EventType, &log.Payload, &log.DedupeKey,
		&log.ProcessedAt, &log.ProcessingError, &log.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &log, nil
}
