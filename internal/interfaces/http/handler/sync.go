package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	channelapp "github.com/channelsync/engine/internal/application/channel"
)

// SyncHandler handles sync job API endpoints
type SyncHandler struct {
	BaseHandler
	syncs *channelapp.SyncServiceImpl
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncs *channelapp.SyncServiceImpl) *SyncHandler {
	return &SyncHandler{
		syncs: syncs,
	}
}

// RequestSyncRequest represents a user-initiated sync request
type RequestSyncRequest struct {
	Provider string `json:"provider" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=import export stock-sync order-sync"`
}

// RequestSync enqueues a user-initiated sync job at high priority
func (h *SyncHandler) RequestSync(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	var req RequestSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.syncs.RequestSync(c.Request.Context(), tenantID, channelapp.SyncRequest{
		Provider: providerCode(req.Provider),
		Kind:     syncKind(req.Kind),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// A coalesced request returns the already-queued job rather than
	// creating a new one
	if resp.Coalesced {
		h.Success(c, resp)
		return
	}
	h.Accepted(c, resp)
}

// GetJob returns one sync job, scoped to the tenant
func (h *SyncHandler) GetJob(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid job ID")
		return
	}

	resp, err := h.syncs.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// ListJobs returns the tenant's recent sync jobs
func (h *SyncHandler) ListJobs(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			h.BadRequest(c, "limit must be an integer between 1 and 200")
			return
		}
		limit = parsed
	}

	resp, err := h.syncs.ListRecentJobs(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// CancelJob cancels a queued or retrying job immediately; a running job is
// flagged for cooperative cancellation
func (h *SyncHandler) CancelJob(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid job ID")
		return
	}

	resp, err := h.syncs.CancelJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// RegisterRoutes registers all sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	{
		sync.POST("", h.RequestSync)
		sync.GET("/jobs", h.ListJobs)
		sync.GET("/jobs/:id", h.GetJob)
		sync.POST("/jobs/:id/cancel", h.CancelJob)
	}
}
