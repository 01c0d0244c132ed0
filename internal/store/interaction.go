package store

import (
	"context"
	"fmt"

	"orderflow.app/engine/internal/model"
)

type interactionStore struct {
	q Querier
}

func newInteractionStore(q Querier) InteractionStore {
	return &interactionStore{q: q}
}

func (s *interactionStore) ListBySession(ctx context.Context, sessionID string, limit int32) ([]model.InteractionRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, session_id, sequence, ts, direction, payload_ref,
			stage_before, stage_after, rule_ids_applied, created_at
		FROM interaction_records
		WHERE session_id = $1
		ORDER BY sequence
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing interaction records: %w", err)
	}
	defer rows.Close()

	var result []model.InteractionRecord
	for rows.Next() {
		var rec model.InteractionRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Sequence, &rec.Timestamp,
			&rec.Direction, &rec.PayloadRef, &rec.StageBefore, &rec.StageAfter,
			&rec.RuleIDsApplied, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning interaction record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
