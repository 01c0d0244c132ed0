package service_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/service"
	"orderflow.app/engine/internal/store"
)

var _ = Describe("EventIngestService", func() {
	var (
		ctx       context.Context
		sessions  *mockSessionStore
		eventLogs *mockEventLogStore
		producer  *mockProducer
		ingest    service.EventIngestService
	)

	BeforeEach(func() {
		ctx = context.Background()
		sessions = &mockSessionStore{}
		eventLogs = &mockEventLogStore{}
		producer = &mockProducer{}
		stores := store.NewStoresWith(sessions, &mockInteractionStore{}, eventLogs)
		ingest = service.NewEventIngestService(stores, producer, nil)
	})

	Describe("Ingest", func() {
		It("persists the event log and enqueues a new delivery", func() {
			result, err := ingest.Ingest(ctx, service.EventIngestParams{
				Channel:   "whatsapp",
				SessionID: "s-1",
				Sequence:  7,
				Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
				Text:      "שלום",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Enqueued).To(BeTrue())
			Expect(result.Duplicated).To(BeFalse())
			Expect(result.DedupeKey).NotTo(BeEmpty())
			Expect(producer.enqueued).To(HaveLen(1))
			Expect(producer.enqueued[0].SessionID).To(Equal("s-1"))
			Expect(producer.enqueued[0].Sequence).To(Equal(int64(7)))
			Expect(producer.enqueued[0].Attempt).To(Equal(1))

			Expect(eventLogs.created).To(HaveLen(1))
			var event model.InteractionEvent
			Expect(json.Unmarshal(eventLogs.created[0].Payload, &event)).To(Succeed())
			Expect(event.Type).To(Equal(model.EventTypeMessage))
			Expect(event.Text).To(Equal("שלום"))
		})

		It("returns the original row without enqueueing on a duplicate delivery", func() {
			existing := &model.EventLog{ID: 11, SessionID: "s-1", Sequence: 7}
			eventLogs.createOrGetFn = func(_ context.Context, _ *model.EventLog) (*model.EventLog, bool, error) {
				return existing, false, nil
			}

			result, err := ingest.Ingest(ctx, service.EventIngestParams{
				Channel:   "whatsapp",
				SessionID: "s-1",
				Sequence:  7,
				Text:      "שלום",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Duplicated).To(BeTrue())
			Expect(result.Enqueued).To(BeFalse())
			Expect(result.EventLog).To(BeIdenticalTo(existing))
			Expect(producer.enqueued).To(BeEmpty())
		})

		It("derives the dedupe key from the external event id when present", func() {
			externalID := "wamid.abc123"
			result, err := ingest.Ingest(ctx, service.EventIngestParams{
				Channel:         "whatsapp",
				SessionID:       "s-1",
				Sequence:        7,
				Text:            "שלום",
				ExternalEventID: &externalID,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.DedupeKey).To(Equal("whatsapp:message:wamid.abc123"))
		})

		It("falls back to the event timestamp for unsequenced channels", func() {
			timestamp := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			result, err := ingest.Ingest(ctx, service.EventIngestParams{
				Channel:   "whatsapp",
				SessionID: "s-1",
				Timestamp: timestamp,
				Text:      "שלום",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EventLog.Sequence).To(Equal(timestamp.UnixMilli()))
		})

		It("rejects a delivery without a channel or session", func() {
			_, err := ingest.Ingest(ctx, service.EventIngestParams{SessionID: "s-1"})
			Expect(err).To(MatchError(service.ErrInvalidEvent))

			_, err = ingest.Ingest(ctx, service.EventIngestParams{Channel: "whatsapp"})
			Expect(err).To(MatchError(service.ErrInvalidEvent))
		})

		It("rejects control event types from channels", func() {
			_, err := ingest.Ingest(ctx, service.EventIngestParams{
				Channel:   "whatsapp",
				SessionID: "s-1",
				EventType: model.EventTypeDeadlineExpired,
			})
			Expect(err).To(MatchError(service.ErrInvalidEvent))
		})
	})

	Describe("Approve", func() {
		It("slots the approval right after the session's last sequence", func() {
			sessions.loadFn = func(_ context.Context, sessionID string) (*model.SessionState, error) {
				state := model.NewSessionState(sessionID, "whatsapp")
				state.Stage = model.StageAwaitingApproval
				state.LastSequence = 12
				state.Version = 4
				return state, nil
			}

			result, err := ingest.Approve(ctx, "s-1", "manager@example.com", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Enqueued).To(BeTrue())
			Expect(result.DedupeKey).To(Equal("approval:s-1:13"))
			Expect(result.EventLog.Sequence).To(Equal(int64(13)))
			Expect(result.EventLog.EventType).To(Equal(model.EventTypePricingApproval))

			var event model.InteractionEvent
			Expect(json.Unmarshal(result.EventLog.Payload, &event)).To(Succeed())
			Expect(event.ApprovedBy).To(Equal("manager@example.com"))
		})

		It("requires both a session and an approver", func() {
			_, err := ingest.Approve(ctx, "", "manager@example.com", nil)
			Expect(err).To(MatchError(service.ErrInvalidEvent))

			_, err = ingest.Approve(ctx, "s-1", "", nil)
			Expect(err).To(MatchError(service.ErrInvalidEvent))
		})
	})
})
