package dispatch_test

import (
	"context"
	"time"

	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
)

type mockSessionStore struct {
	loadFn          func(ctx context.Context, sessionID string) (*model.SessionState, error)
	appendAndSaveFn func(ctx context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error
	listExpiredFn   func(ctx context.Context, now time.Time, limit int32) ([]model.SessionState, error)

	loadCalls int
	saveCalls int
}

func (m *mockSessionStore) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
	m.loadCalls++
	if m.loadFn != nil {
		return m.loadFn(ctx, sessionID)
	}
	return model.NewSessionState(sessionID, "whatsapp"), nil
}

func (m *mockSessionStore) AppendAndSave(ctx context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error {
	m.saveCalls++
	if m.appendAndSaveFn != nil {
		return m.appendAndSaveFn(ctx, expectedVersion, state, record)
	}
	return nil
}

func (m *mockSessionStore) ListExpiredAck(ctx context.Context, now time.Time, limit int32) ([]model.SessionState, error) {
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, now, limit)
	}
	return nil, nil
}

type mockEventLogStore struct {
	getByIDFn func(ctx context.Context, id int64) (*model.EventLog, error)

	processed []int64
	failed    []int64
}

func (m *mockEventLogStore) CreateOrGet(ctx context.Context, log *model.EventLog) (*model.EventLog, bool, error) {
	return log, true, nil
}

func (m *mockEventLogStore) GetByID(ctx context.Context, id int64) (*model.EventLog, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockEventLogStore) MarkProcessed(ctx context.Context, id int64) error {
	m.processed = append(m.processed, id)
	return nil
}

func (m *mockEventLogStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	m.failed = append(m.failed, id)
	return nil
}

type mockResolver struct {
	resolveFn   func(ctx context.Context, domainKey string) (*model.RuleSet, error)
	invalidated []string
}

func (m *mockResolver) Resolve(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, domainKey)
	}
	return nil, nil
}

func (m *mockResolver) Invalidate(domainKey string) {
	m.invalidated = append(m.invalidated, domainKey)
}

type mockEmitter struct {
	emitted [][]flow.OutboundAction
}

func (m *mockEmitter) Emit(ctx context.Context, actions []flow.OutboundAction) {
	m.emitted = append(m.emitted, actions)
}
