package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	channelapp "github.com/channelsync/engine/internal/application/channel"
)

// maxWebhookBodySize bounds provider webhook payloads
const maxWebhookBodySize = 1 << 20 // 1MB

// WebhookHandler translates provider webhook deliveries into low-priority
// sync jobs. The payload is handed verbatim to the provider's adapter; the
// handler never inspects it.
type WebhookHandler struct {
	BaseHandler
	syncs *channelapp.SyncServiceImpl
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(syncs *channelapp.SyncServiceImpl) *WebhookHandler {
	return &WebhookHandler{
		syncs: syncs,
	}
}

// Receive accepts a webhook delivery for one provider
func (h *WebhookHandler) Receive(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	provider, err := getProvider(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		h.BadRequest(c, "Failed to read webhook payload")
		return
	}
	if len(payload) == 0 {
		h.BadRequest(c, "Empty webhook payload")
		return
	}

	resp, err := h.syncs.HandleWebhook(c.Request.Context(), tenantID, provider, payload)
	if err != nil {
		// Adapter parse failures surface as provider-specific errors; treat
		// anything that is not a known engine error as a bad payload.
		if syncErrorCode(err) == "" {
			h.BadRequest(c, "Unrecognized webhook payload")
			return
		}
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, resp)
}

// RegisterRoutes registers all webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	webhooks := rg.Group("/webhooks")
	{
		webhooks.POST("/:provider", h.Receive)
	}
}
