package router

import (
	"github.com/gin-gonic/gin"

	"orderflow.app/engine/internal/http/handler"
	"orderflow.app/engine/internal/http/middleware"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/service"
)

type RouterConfig struct {
	WebhookVerifyToken string
	AdminKey           string
	DomainKey          string
}

func SetupRoutes(router *gin.Engine, ingest service.EventIngestService, sessions service.SessionQueryService, resolver rules.Resolver, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := handler.NewWebhookHandler(ingest, cfg.WebhookVerifyToken)
	router.POST("/webhook/:channel", webhookHandler.HandleEvent)

	v1 := router.Group("/api/v1")
	{
		sessionHandler := handler.NewSessionHandler(sessions, ingest)
		v1.GET("/sessions/:session_id", sessionHandler.Get)
		v1.GET("/sessions/:session_id/history", sessionHandler.History)
		v1.POST("/sessions/:session_id/approval", sessionHandler.Approve)

		adminHandler := handler.NewAdminHandler(resolver, cfg.DomainKey)
		admin := v1.Group("/admin", middleware.RequireAdminKey(cfg.AdminKey))
		admin.POST("/rules/invalidate", adminHandler.InvalidateRules)
	}
}
