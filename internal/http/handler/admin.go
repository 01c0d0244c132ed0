package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderflow.app/engine/internal/rules"
)

// AdminHandler exposes operational endpoints behind the admin key.
type AdminHandler struct {
	resolver  rules.Resolver
	domainKey string
}

func NewAdminHandler(resolver rules.Resolver, domainKey string) *AdminHandler {
	return &AdminHandler{
		resolver:  resolver,
		domainKey: domainKey,
	}
}

// InvalidateRules expires the cached ruleset so the next event refetches.
// Used after the rules team publishes a new document.
func (h *AdminHandler) InvalidateRules(c *gin.Context) {
	domainKey := c.DefaultQuery("domain_key", h.domainKey)
	h.resolver.Invalidate(domainKey)

	slog.InfoContext(c.Request.Context(), "ruleset cache invalidated", "domain_key", domainKey)
	c.JSON(http.StatusOK, gin.H{"invalidated": domainKey})
}
