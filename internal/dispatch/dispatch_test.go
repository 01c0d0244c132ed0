package dispatch_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/core/config"
	"orderflow.app/engine/internal/dispatch"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/queue"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/store"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx       context.Context
		sessions  *mockSessionStore
		eventLogs *mockEventLogStore
		resolver  *mockResolver
		emitter   *mockEmitter
		machine   *flow.Machine
		ruleset   *model.RuleSet
		msg       queue.Message
	)

	newDispatcher := func(maxRetries int) *dispatch.Dispatcher {
		return dispatch.New(sessions, eventLogs, resolver, machine, emitter, dispatch.Config{
			DomainKey:  "catering",
			MaxRetries: maxRetries,
		})
	}

	eventLogRow := func(event model.InteractionEvent) *model.EventLog {
		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())
		return &model.EventLog{
			ID:        42,
			SessionID: event.SessionID,
			Channel:   event.Channel,
			Sequence:  event.Sequence,
			EventType: event.Type,
			Payload:   payload,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		sessions = &mockSessionStore{}
		eventLogs = &mockEventLogStore{}
		emitter = &mockEmitter{}
		machine = flow.NewMachine(config.FlowConfig{
			SupervisorCode: "חביתוש123",
			AckSLA:         5 * time.Minute,
		})
		ruleset = rules.DefaultRuleSet("catering")
		resolver = &mockResolver{
			resolveFn: func(_ context.Context, _ string) (*model.RuleSet, error) {
				return ruleset, nil
			},
		}
		msg = queue.Message{
			ID:         "1-0",
			EventLogID: 42,
			SessionID:  "s-1",
			Sequence:   1,
			EventType:  "message",
			Attempt:    1,
		}
	})

	It("applies a transition, marks the event processed and emits actions", func() {
		event := model.InteractionEvent{
			SessionID: "s-1",
			Channel:   "whatsapp",
			Sequence:  1,
			Timestamp: time.Now().UTC(),
			Type:      model.EventTypeMessage,
			Text:      "שלום",
		}
		row := eventLogRow(event)
		eventLogs.getByIDFn = func(_ context.Context, id int64) (*model.EventLog, error) {
			Expect(id).To(Equal(int64(42)))
			return row, nil
		}

		var saved *model.SessionState
		sessions.appendAndSaveFn = func(_ context.Context, expectedVersion int64, state *model.SessionState, record *model.InteractionRecord) error {
			Expect(expectedVersion).To(Equal(int64(0)))
			Expect(record.Sequence).To(Equal(int64(1)))
			saved = state
			return nil
		}

		Expect(newDispatcher(3).Handle(ctx, msg)).To(Succeed())

		Expect(saved).NotTo(BeNil())
		Expect(saved.Stage).To(Equal(model.StageVerifying))
		Expect(saved.LastSequence).To(Equal(int64(1)))
		Expect(eventLogs.processed).To(Equal([]int64{42}))
		Expect(emitter.emitted).To(HaveLen(1))
		Expect(emitter.emitted[0]).NotTo(BeEmpty())
	})

	It("skips an event log that was already processed", func() {
		processedAt := time.Now().UTC()
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return &model.EventLog{ID: 42, ProcessedAt: &processedAt}, nil
		}

		Expect(newDispatcher(3).Handle(ctx, msg)).To(Succeed())

		Expect(sessions.loadCalls).To(BeZero())
		Expect(eventLogs.processed).To(BeEmpty())
		Expect(emitter.emitted).To(BeEmpty())
	})

	It("treats a missing event log as malformed", func() {
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return nil, store.ErrNotFound
		}

		err := newDispatcher(3).Handle(ctx, msg)
		Expect(err).To(MatchError(flow.ErrMalformedEvent))
	})

	It("marks an undecodable payload failed and returns a malformed error", func() {
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return &model.EventLog{ID: 42, Payload: json.RawMessage(`{"session_id":`)}, nil
		}

		err := newDispatcher(3).Handle(ctx, msg)
		Expect(err).To(MatchError(flow.ErrMalformedEvent))
		Expect(eventLogs.failed).To(Equal([]int64{42}))
		Expect(eventLogs.processed).To(BeEmpty())
	})

	It("marks a semantically invalid event failed without retrying", func() {
		event := model.InteractionEvent{
			Channel:   "whatsapp",
			Sequence:  1,
			Timestamp: time.Now().UTC(),
			Type:      model.EventTypeMessage,
		}
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return eventLogRow(event), nil
		}

		err := newDispatcher(3).Handle(ctx, msg)
		Expect(err).To(MatchError(flow.ErrMalformedEvent))
		Expect(eventLogs.failed).To(Equal([]int64{42}))
		Expect(sessions.saveCalls).To(BeZero())
	})

	It("marks a sequence-gated event processed without emitting", func() {
		event := model.InteractionEvent{
			SessionID: "s-1",
			Channel:   "whatsapp",
			Sequence:  3,
			Timestamp: time.Now().UTC(),
			Type:      model.EventTypeMessage,
			Text:      "שלום",
		}
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return eventLogRow(event), nil
		}
		sessions.loadFn = func(_ context.Context, sessionID string) (*model.SessionState, error) {
			state := model.NewSessionState(sessionID, "whatsapp")
			state.LastSequence = 5
			state.Version = 2
			return state, nil
		}

		Expect(newDispatcher(3).Handle(ctx, msg)).To(Succeed())

		Expect(sessions.saveCalls).To(BeZero())
		Expect(eventLogs.processed).To(Equal([]int64{42}))
		Expect(emitter.emitted).To(BeEmpty())
	})

	It("reloads and retries after losing the version race", func() {
		event := model.InteractionEvent{
			SessionID: "s-1",
			Channel:   "whatsapp",
			Sequence:  1,
			Timestamp: time.Now().UTC(),
			Type:      model.EventTypeMessage,
			Text:      "שלום",
		}
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return eventLogRow(event), nil
		}
		sessions.appendAndSaveFn = func(_ context.Context, _ int64, _ *model.SessionState, _ *model.InteractionRecord) error {
			if sessions.saveCalls == 1 {
				return store.ErrConflict
			}
			return nil
		}

		Expect(newDispatcher(3).Handle(ctx, msg)).To(Succeed())

		Expect(sessions.loadCalls).To(Equal(2))
		Expect(sessions.saveCalls).To(Equal(2))
		Expect(eventLogs.processed).To(Equal([]int64{42}))
	})

	It("gives up with a contention error when every attempt conflicts", func() {
		event := model.InteractionEvent{
			SessionID: "s-1",
			Channel:   "whatsapp",
			Sequence:  1,
			Timestamp: time.Now().UTC(),
			Type:      model.EventTypeMessage,
			Text:      "שלום",
		}
		eventLogs.getByIDFn = func(_ context.Context, _ int64) (*model.EventLog, error) {
			return eventLogRow(event), nil
		}
		sessions.appendAndSaveFn = func(_ context.Context, _ int64, _ *model.SessionState, _ *model.InteractionRecord) error {
			return store.ErrConflict
		}

		err := newDispatcher(2).Handle(ctx, msg)
		Expect(err).To(MatchError(dispatch.ErrSessionContention))
		Expect(sessions.saveCalls).To(Equal(2))
		Expect(eventLogs.processed).To(BeEmpty())
		Expect(emitter.emitted).To(BeEmpty())
	})
})
