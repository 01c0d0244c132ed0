package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"orderflow.app/engine/internal/http/dto"
	"orderflow.app/engine/internal/service"
)

type SessionHandler struct {
	sessions service.SessionQueryService
	ingest   service.EventIngestService
}

func NewSessionHandler(sessions service.SessionQueryService, ingest service.EventIngestService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		ingest:   ingest,
	}
}

func (h *SessionHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	state, err := h.sessions.Get(ctx, c.Param("session_id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	c.JSON(http.StatusOK, dto.NewSessionResponse(state))
}

func (h *SessionHandler) History(c *gin.Context) {
	ctx := c.Request.Context()

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 32)
	records, err := h.sessions.History(ctx, c.Param("session_id"), int32(limit))
	if err != nil {
		slog.ErrorContext(ctx, "failed to load interaction history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"interactions": dto.NewInteractionResponses(records)})
}

// Approve ingests a manager's pricing approval as a control event.
func (h *SessionHandler) Approve(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var traceID *string
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		t := spanCtx.TraceID().String()
		traceID = &t
	}

	result, err := h.ingest.Approve(ctx, c.Param("session_id"), req.ApprovedBy, traceID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest approval", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest approval"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestEventResponse{
		EventLogID: result.EventLog.ID,
		DedupeKey:  result.DedupeKey,
		Enqueued:   result.Enqueued,
		Duplicated: result.Duplicated,
	})
}
