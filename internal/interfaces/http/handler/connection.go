package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	channelapp "github.com/channelsync/engine/internal/application/channel"
)

// ConnectionHandler handles provider connection API endpoints
type ConnectionHandler struct {
	BaseHandler
	connections *channelapp.ConnectionServiceImpl
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(connections *channelapp.ConnectionServiceImpl) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
	}
}

// ConnectRequest represents a request to authorize a provider connection
type ConnectRequest struct {
	Provider    string `json:"provider" binding:"required"`
	Code        string `json:"code" binding:"required"`
	ShopDomain  string `json:"shop_domain" binding:"max=255"`
	RedirectURI string `json:"redirect_uri" binding:"omitempty,url"`
}

// UpdateMappingsRequest represents a request to replace the field mappings
type UpdateMappingsRequest struct {
	Mappings json.RawMessage `json:"mappings" binding:"required"`
}

// Connect runs the authorization handshake for a provider
func (h *ConnectionHandler) Connect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.connections.Connect(c.Request.Context(), tenantID, channelapp.ConnectRequest{
		Provider:    providerCode(req.Provider),
		Code:        req.Code,
		ShopDomain:  req.ShopDomain,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, resp)
}

// List returns all of the tenant's connections
func (h *ConnectionHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	resp, err := h.connections.ListConnections(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// Get returns the connection for one provider
func (h *ConnectionHandler) Get(c *gin.Context) {
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

	resp, err := h.connections.GetConnection(c.Request.Context(), tenantID, provider)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// Disconnect revokes a provider connection and destroys its credential
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
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

	if err := h.connections.Disconnect(c.Request.Context(), tenantID, provider); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// UpdateMappings replaces the provider field mapping blob
func (h *ConnectionHandler) UpdateMappings(c *gin.Context) {
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

	var req UpdateMappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	resp, err := h.connections.UpdateMappings(c.Request.Context(), tenantID, provider, req.Mappings)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, resp)
}

// RegisterRoutes registers all connection routes
func (h *ConnectionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	connections := rg.Group("/connections")
	{
		connections.POST("", h.Connect)
		connections.GET("", h.List)
		connections.GET("/:provider", h.Get)
		connections.DELETE("/:provider", h.Disconnect)
		connections.PUT("/:provider/mappings", h.UpdateMappings)
	}
}
