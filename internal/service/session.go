package service

import (
	"context"
	"fmt"

	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/store"
)

var ErrSessionNotFound = fmt.Errorf("session not found")

// SessionQueryService is the read side for ops tooling and the dashboard:
// current state plus the interaction log.
type SessionQueryService interface {
	Get(ctx context.Context, sessionID string) (*model.SessionState, error)
	History(ctx context.Context, sessionID string, limit int32) ([]model.InteractionRecord, error)
}

type sessionQueryService struct {
	stores *store.Stores
}

func NewSessionQueryService(stores *store.Stores) SessionQueryService {
	return &sessionQueryService{stores: stores}
}

func (s *sessionQueryService) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	state, err := s.stores.Sessions().Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if state.Version == 0 {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

func (s *sessionQueryService) History(ctx context.Context, sessionID string, limit int32) ([]model.InteractionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, err := s.stores.Interactions().ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	return records, nil
}
