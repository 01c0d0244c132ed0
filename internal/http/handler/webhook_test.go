package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"orderflow.app/engine/internal/http/handler"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/service"
)

var _ = Describe("WebhookHandler", func() {
	var (
		router *gin.Engine
		ingest *mockIngestService
	)

	setup := func(verifyToken string) {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		h := handler.NewWebhookHandler(ingest, verifyToken)
		router.POST("/webhook/:channel", h.HandleEvent)
	}

	post := func(path, token string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("X-Webhook-Token", token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		ingest = &mockIngestService{}
	})

	It("accepts a delivery and returns 202 with the event log id", func() {
		setup("")
		var got service.EventIngestParams
		ingest.ingestFn = func(_ context.Context, params service.EventIngestParams) (*service.EventIngestResult, error) {
			got = params
			return &service.EventIngestResult{
				EventLog:  &model.EventLog{ID: 77},
				DedupeKey: "whatsapp:abc",
				Enqueued:  true,
			}, nil
		}

		body, _ := json.Marshal(map[string]any{
			"session_id": "s-1",
			"sequence":   3,
			"text":       "שלום",
		})
		w := post("/webhook/whatsapp", "", body)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(got.Channel).To(Equal("whatsapp"))
		Expect(got.SessionID).To(Equal("s-1"))
		Expect(got.Sequence).To(Equal(int64(3)))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["event_log_id"]).To(BeEquivalentTo(77))
		Expect(resp["enqueued"]).To(BeTrue())
	})

	It("rejects a delivery with the wrong verify token", func() {
		setup("secret")
		w := post("/webhook/whatsapp", "wrong", []byte(`{"session_id":"s-1"}`))
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("accepts a delivery with the right verify token", func() {
		setup("secret")
		w := post("/webhook/whatsapp", "secret", []byte(`{"session_id":"s-1","text":"hi"}`))
		Expect(w.Code).To(Equal(http.StatusAccepted))
	})

	It("returns 400 on a body missing the session id", func() {
		setup("")
		w := post("/webhook/whatsapp", "", []byte(`{"text":"hi"}`))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 400 when the service rejects the event", func() {
		setup("")
		ingest.ingestFn = func(_ context.Context, _ service.EventIngestParams) (*service.EventIngestResult, error) {
			return nil, service.ErrInvalidEvent
		}
		w := post("/webhook/whatsapp", "", []byte(`{"session_id":"s-1","event_type":"deadline_expired"}`))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 500 when ingestion fails", func() {
		setup("")
		ingest.ingestFn = func(_ context.Context, _ service.EventIngestParams) (*service.EventIngestResult, error) {
			return nil, errors.New("db down")
		}
		w := post("/webhook/whatsapp", "", []byte(`{"session_id":"s-1","text":"hi"}`))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
