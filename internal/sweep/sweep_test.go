package sweep_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/core/config"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/store"
	"orderflow.app/engine/internal/sweep"
)

type mockSessionStore struct {
	listExpiredFn   func(ctx context.Context, now time.Time, limit int32) ([]model.SessionState, error)
	appendAndSaveFn func(ctx context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error

	saveCalls int
}

func (m *mockSessionStore) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
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

type staticResolver struct {
	ruleset *model.RuleSet
}

func (r *staticResolver) Resolve(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	return r.ruleset, nil
}

func (r *staticResolver) Invalidate(domainKey string) {}

type mockEmitter struct {
	emitted [][]flow.OutboundAction
}

func (m *mockEmitter) Emit(ctx context.Context, actions []flow.OutboundAction) {
	m.emitted = append(m.emitted, actions)
}

var _ = Describe("Sweeper", func() {
	var (
		ctx      context.Context
		sessions *mockSessionStore
		emitter  *mockEmitter
		machine  *flow.Machine
		sweeper  *sweep.Sweeper
	)

	expiredSession := func() model.SessionState {
		deadline := time.Now().UTC().Add(-time.Minute)
		state := model.NewSessionState("s-1", "whatsapp")
		state.Stage = model.StageOrdering
		state.Verified = true
		state.LastSequence = 7
		state.LastAckDeadline = &deadline
		state.Version = 3
		return *state
	}

	BeforeEach(func() {
		ctx = context.Background()
		sessions = &mockSessionStore{}
		emitter = &mockEmitter{}
		machine = flow.NewMachine(config.FlowConfig{
			SupervisorCode: "חביתוש123",
			AckSLA:         5 * time.Minute,
		})
		sweeper = sweep.New(sessions, &staticResolver{ruleset: rules.DefaultRuleSet("catering")}, machine, emitter, sweep.Config{
			DomainKey: "catering",
		})
	})

	It("abandons an expired session through the normal transition path", func() {
		sessions.listExpiredFn = func(_ context.Context, _ time.Time, _ int32) ([]model.SessionState, error) {
			return []model.SessionState{expiredSession()}, nil
		}

		var saved *model.SessionState
		var record *model.InteractionRecord
		sessions.appendAndSaveFn = func(_ context.Context, expectedVersion int64, state *model.SessionState, rec *model.InteractionRecord) error {
			Expect(expectedVersion).To(Equal(int64(3)))
			saved = state
			record = rec
			return nil
		}

		Expect(sweeper.SweepOnce(ctx)).To(Succeed())

		Expect(saved).NotTo(BeNil())
		Expect(saved.Stage).To(Equal(model.StageAbandoned))
		Expect(saved.LastSequence).To(Equal(int64(8)))
		Expect(record.Direction).To(Equal(model.DirectionOutbound))
		Expect(emitter.emitted).To(HaveLen(1))
		Expect(emitter.emitted[0]).NotTo(BeEmpty())
	})

	It("skips a session that advanced concurrently", func() {
		sessions.listExpiredFn = func(_ context.Context, _ time.Time, _ int32) ([]model.SessionState, error) {
			return []model.SessionState{expiredSession()}, nil
		}
		sessions.appendAndSaveFn = func(_ context.Context, _ int64, _ *model.SessionState, _ *model.InteractionRecord) error {
			return store.ErrConflict
		}

		Expect(sweeper.SweepOnce(ctx)).To(Succeed())
		Expect(emitter.emitted).To(BeEmpty())
	})

	It("leaves an acknowledged session alone", func() {
		acked := time.Now().UTC()
		state := expiredSession()
		state.Stage = model.StageConfirmed
		state.EnsureOrder().AcknowledgedAt = &acked
		sessions.listExpiredFn = func(_ context.Context, _ time.Time, _ int32) ([]model.SessionState, error) {
			return []model.SessionState{state}, nil
		}

		Expect(sweeper.SweepOnce(ctx)).To(Succeed())
		Expect(sessions.saveCalls).To(BeZero())
		Expect(emitter.emitted).To(BeEmpty())
	})

	It("does nothing when no deadline has elapsed", func() {
		Expect(sweeper.SweepOnce(ctx)).To(Succeed())
		Expect(sessions.saveCalls).To(BeZero())
		Expect(emitter.emitted).To(BeEmpty())
	})
})
