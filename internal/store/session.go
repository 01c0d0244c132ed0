package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"orderflow.app/engine/common/id"
	"orderflow.app/engine/core/db"
	"orderflow.app/engine/internal/model"
)

type sessionStore struct {
	db *db.DB
}

func newSessionStore(database *db.DB) SessionStore {
	return &sessionStore{db: database}
}

const sessionColumns = `session_id, channel, stage, prior_stage, verified, supervisor_mode,
	profile, order_state, last_sequence, last_ack_deadline, version, created_at, updated_at`

func (s *sessionStore) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)

	state, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not-yet-created: fresh zero-value state at version 0.
			return model.NewSessionState(sessionID, ""), nil
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return state, nil
}

func (s *sessionStore) AppendAndSave(ctx context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error {
	profileJSON, err := json.Marshal(state.Profile)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}

	var orderJSON []byte
	if state.Order != nil {
		orderJSON, err = json.Marshal(state.Order)
		if err != nil {
			return fmt.Errorf("marshaling order state: %w", err)
		}
	}

	if record.ID == 0 {
		record.ID = id.New()
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if expectedVersion == 0 {
			tag, err := tx.Exec(ctx, `
				INSERT INTO sessions (session_id, channel, stage, prior_stage, verified, supervisor_mode,
					profile, order_state, last_sequence, last_ack_deadline, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
				ON CONFLICT (session_id) DO NOTHING`,
				state.SessionID, state.Channel, state.Stage, state.PriorStage,
				state.Verified, state.SupervisorMode, profileJSON, orderJSON,
				state.LastSequence, state.LastAckDeadline)
			if err != nil {
				return fmt.Errorf("inserting session: %w", err)
			}
			if tag.RowsAffected() == 0 {
				// Someone else created the session first.
				return ErrConflict
			}
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE sessions
				SET channel = $1, stage = $2, prior_stage = $3, verified = $4,
					supervisor_mode = $5, profile = $6, order_state = $7,
					last_sequence = $8, last_ack_deadline = $9,
					version = version + 1, updated_at = now()
				WHERE session_id = $10 AND version = $11`,
				state.Channel, state.Stage, state.PriorStage, state.Verified,
				state.SupervisorMode, profileJSON, orderJSON,
				state.LastSequence, state.LastAckDeadline,
				state.SessionID, expectedVersion)
			if err != nil {
				return fmt.Errorf("updating session: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrConflict
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO interaction_records (id, session_id, sequence, ts, direction,
				payload_ref, stage_before, stage_after, rule_ids_applied)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			record.ID, record.SessionID, record.Sequence, record.Timestamp,
			record.Direction, record.PayloadRef, record.StageBefore,
			record.StageAfter, record.RuleIDsApplied)
		if err != nil {
			if isUniqueViolation(err) {
				// Sequence already appended for this session.
				return ErrConflict
			}
			return fmt.Errorf("appending interaction record: %w", err)
		}

		return nil
	})
}

func (s *sessionStore) ListExpiredAck(ctx context.Context, now time.Time, limit int32) ([]model.SessionState, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE last_ack_deadline IS NOT NULL AND last_ack_deadline < $1
		ORDER BY last_ack_deadline
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	defer rows.Close()

	var result []model.SessionState
	for rows.Next() {
		state, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expired session: %w", err)
		}
		result = append(result, *state)
	}
	return result, rows.Err()
}

func scanSession(row pgx.Row) (*model.SessionState, error) {
	var (
		state       model.SessionState
		profileJSON []byte
		orderJSON   []byte
	)

	err := row.Scan(
		&state.SessionID, &state.Channel, &state.Stage, &state.PriorStage,
		&state.Verified, &state.SupervisorMode, &profileJSON, &orderJSON,
		&state.LastSequence, &state.LastAckDeadline, &state.Version,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, &state.Profile); err != nil {
			return nil, fmt.Errorf("unmarshaling profile: %w", err)
		}
	}
	if len(orderJSON) > 0 {
		state.Order = &model.OrderState{}
		if err := json.Unmarshal(orderJSON, state.Order); err != nil {
			return nil, fmt.Errorf("unmarshaling order state: %w", err)
		}
	}

	return &state, nil
}
