package handler

import (
	"github.com/gin-gonic/gin"

	channelapp "github.com/channelsync/engine/internal/application/channel"
)

// StatsHandler handles the per-tenant sync dashboard endpoint
type StatsHandler struct {
	BaseHandler
	stats *channelapp.StatsServiceImpl
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats *channelapp.StatsServiceImpl) *StatsHandler {
	return &StatsHandler{
		stats: stats,
	}
}

// Summary returns the tenant's per-provider sync statistics
func (h *StatsHandler) Summary(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	resp, err := h.stats.Summarize(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// RegisterRoutes registers all stats routes
func (h *StatsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	stats := rg.Group("/stats")
	{
		stats.GET("", h.Summary)
	}
}
