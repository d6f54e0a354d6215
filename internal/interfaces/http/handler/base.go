package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/scheduler"
	"github.com/channelsync/engine/internal/interfaces/http/dto"
	"github.com/channelsync/engine/internal/interfaces/http/middleware"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	if id := c.GetHeader(RequestIDKey); id != "" {
		return id
	}
	return ""
}

// getTenantID extracts the tenant ID set by the tenant middleware
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantID, err := middleware.GetTenantUUID(c)
	if err != nil {
		return uuid.Nil, err
	}
	if tenantID == uuid.Nil {
		return uuid.Nil, errors.New("tenant ID not found in context")
	}
	return tenantID, nil
}

// getProvider extracts and validates the provider path parameter
func getProvider(c *gin.Context) (channel.ProviderCode, error) {
	provider := providerCode(c.Param("provider"))
	if !provider.IsValid() {
		return "", channel.ErrInvalidProvider
	}
	return provider, nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response for asynchronously processed work
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	requestID := getRequestID(c)
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	statusCode := dto.GetHTTPStatus(code)
	requestID := getRequestID(c)
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// UnprocessableEntity sends a 422 unprocessable entity response
func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, http.StatusUnprocessableEntity, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// TooManyRequests sends a 429 too many requests response
func (h *BaseHandler) TooManyRequests(c *gin.Context, message string) {
	h.Error(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	requestID := getRequestID(c)
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		requestID,
		details,
	))
}

// syncErrorCode maps a domain sentinel error to its wire error code.
// Returns "" when the error is not a recognized sentinel.
func syncErrorCode(err error) string {
	switch {
	case errors.Is(err, channel.ErrConnectionNotFound),
		errors.Is(err, channel.ErrJobNotFound),
		errors.Is(err, channel.ErrCredentialNotFound):
		return dto.ErrCodeNotFound
	case errors.Is(err, channel.ErrConnectionExists):
		return dto.ErrCodeAlreadyExists
	case errors.Is(err, channel.ErrConnectionNotReady):
		return dto.ErrCodeConnectionNotReady
	case errors.Is(err, channel.ErrVersionConflict):
		return dto.ErrCodeConcurrencyConflict
	case errors.Is(err, channel.ErrIllegalTransition),
		errors.Is(err, channel.ErrMappingsLocked),
		errors.Is(err, channel.ErrJobNotCancelable),
		errors.Is(err, channel.ErrJobAlreadyDone):
		return dto.ErrCodeInvalidState
	case errors.Is(err, channel.ErrInvalidProvider),
		errors.Is(err, channel.ErrInvalidSyncKind),
		errors.Is(err, channel.ErrInvalidTenantID):
		return dto.ErrCodeInvalidInput
	case errors.Is(err, channel.ErrNotSupported):
		return dto.ErrCodeNotSupported
	case errors.Is(err, channel.ErrAuthExpired),
		errors.Is(err, channel.ErrRefreshDenied),
		errors.Is(err, channel.ErrCredentialExpired),
		errors.Is(err, channel.ErrReauthorizationNeeded):
		return dto.ErrCodeProviderAuth
	case errors.Is(err, channel.ErrRateLimited):
		return dto.ErrCodeRateLimited
	case errors.Is(err, channel.ErrTransient):
		return dto.ErrCodeProviderUnavailable
	case errors.Is(err, channel.ErrValidation):
		return dto.ErrCodeProviderRejected
	case errors.Is(err, scheduler.ErrJobQueueFull):
		return dto.ErrCodeQueueFull
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		return dto.ErrCodeUnavailable
	default:
		return ""
	}
}

// HandleError converts domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	requestID := getRequestID(c)

	if code := syncErrorCode(err); code != "" {
		statusCode := dto.GetHTTPStatus(code)
		c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, err.Error(), requestID))
		return
	}

	// Check for domain error using errors.As for wrapped error support
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		statusCode := dto.GetHTTPStatus(code)
		c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	// Default to internal error for unknown error types
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}
