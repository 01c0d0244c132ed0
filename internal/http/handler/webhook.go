package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"orderflow.app/engine/internal/http/dto"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/service"
)

// WebhookHandler accepts channel deliveries. Responds 202 as soon as the
// event is durable and enqueued; processing happens in the worker.
type WebhookHandler struct {
	ingest      service.EventIngestService
	verifyToken string
}

func NewWebhookHandler(ingest service.EventIngestService, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		ingest:      ingest,
		verifyToken: verifyToken,
	}
}

func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	channel := c.Param("channel")
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing channel"})
		return
	}

	if h.verifyToken != "" {
		token := c.GetHeader("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid webhook request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := service.EventIngestParams{
		Channel:         channel,
		SessionID:       req.SessionID,
		Sequence:        req.Sequence,
		Timestamp:       req.Timestamp,
		EventType:       model.EventType(req.EventType),
		Text:            req.Text,
		ExternalEventID: req.ExternalEventID,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		traceID := spanCtx.TraceID().String()
		params.TraceID = &traceID
	}

	result, err := h.ingest.Ingest(ctx, params)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestEventResponse{
		EventLogID: result.EventLog.ID,
		DedupeKey:  result.DedupeKey,
		Enqueued:   result.Enqueued,
		Duplicated: result.Duplicated,
	})
}
