package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/internal/http/handler"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/service"
)

var _ = Describe("SessionHandler", func() {
	var (
		router   *gin.Engine
		sessions *mockSessionQueryService
		ingest   *mockIngestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		sessions = &mockSessionQueryService{}
		ingest = &mockIngestService{}
		h := handler.NewSessionHandler(sessions, ingest)
		router.GET("/sessions/:session_id", h.Get)
		router.GET("/sessions/:session_id/history", h.History)
		router.POST("/sessions/:session_id/approval", h.Approve)
	})

	Describe("Get", func() {
		It("returns the session state", func() {
			sessions.getFn = func(_ context.Context, sessionID string) (*model.SessionState, error) {
				state := model.NewSessionState(sessionID, "whatsapp")
				state.Stage = model.StageAwaitingApproval
				state.Version = 3
				return state, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/sessions/s-1", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["session_id"]).To(Equal("s-1"))
			Expect(resp["stage"]).To(Equal("awaiting_approval"))
		})

		It("returns 404 for an unknown session", func() {
			req := httptest.NewRequest(http.MethodGet, "/sessions/s-unknown", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("History", func() {
		It("returns the interaction log with the requested limit", func() {
			var gotLimit int32
			sessions.historyFn = func(_ context.Context, _ string, limit int32) ([]model.InteractionRecord, error) {
				gotLimit = limit
				return []model.InteractionRecord{
					{Sequence: 1, Timestamp: time.Now().UTC(), Direction: model.DirectionInbound, StageBefore: model.StageNew, StageAfter: model.StageVerifying},
				}, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/sessions/s-1/history?limit=25", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(int32(25)))
			var resp struct {
				Interactions []map[string]any `json:"interactions"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Interactions).To(HaveLen(1))
			Expect(resp.Interactions[0]["stage_after"]).To(Equal("verifying"))
		})
	})

	Describe("Approve", func() {
		It("ingests the approval and returns 202", func() {
			var gotSession, gotApprover string
			ingest.approveFn = func(_ context.Context, sessionID, approvedBy string, _ *string) (*service.EventIngestResult, error) {
				gotSession = sessionID
				gotApprover = approvedBy
				return &service.EventIngestResult{
					EventLog:  &model.EventLog{ID: 5, Sequence: 13},
					DedupeKey: "approval:s-1:13",
					Enqueued:  true,
				}, nil
			}

			body, _ := json.Marshal(map[string]string{"approved_by": "manager@example.com"})
			req := httptest.NewRequest(http.MethodPost, "/sessions/s-1/approval", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(gotSession).To(Equal("s-1"))
			Expect(gotApprover).To(Equal("manager@example.com"))
		})

		It("returns 400 when the approver is missing", func() {
			req := httptest.NewRequest(http.MethodPost, "/sessions/s-1/approval", bytes.NewBufferString(`{}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
