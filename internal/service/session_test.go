package service_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/service"
	"orderflow.app/engine/internal/store"
)

var _ = Describe("SessionQueryService", func() {
	var (
		ctx          context.Context
		sessions     *mockSessionStore
		interactions *mockInteractionStore
		svc          service.SessionQueryService
	)

	BeforeEach(func() {
		ctx = context.Background()
		sessions = &mockSessionStore{}
		interactions = &mockInteractionStore{}
		svc = service.NewSessionQueryService(store.NewStoresWith(sessions, interactions, &mockEventLogStore{}))
	})

	It("returns a persisted session", func() {
		sessions.loadFn = func(_ context.Context, sessionID string) (*model.SessionState, error) {
			state := model.NewSessionState(sessionID, "whatsapp")
			state.Stage = model.StageOrdering
			state.Version = 2
			return state, nil
		}

		state, err := svc.Get(ctx, "s-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Stage).To(Equal(model.StageOrdering))
	})

	It("reports not found for a session that was never written", func() {
		_, err := svc.Get(ctx, "s-unknown")
		Expect(err).To(MatchError(service.ErrSessionNotFound))
	})

	It("clamps the history limit to a sane default", func() {
		_, err := svc.History(ctx, "s-1", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(interactions.lastLimit).To(Equal(int32(100)))

		_, err = svc.History(ctx, "s-1", 10_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(interactions.lastLimit).To(Equal(int32(100)))

		_, err = svc.History(ctx, "s-1", 25)
		Expect(err).NotTo(HaveOccurred())
		Expect(interactions.lastLimit).To(Equal(int32(25)))
	})
})
