package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/channelsync/engine/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilingWithConfig_LabelsRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))

	var gotMethod, gotRoute, gotController string
	router.GET("/api/v1/connections/:provider", func(c *gin.Context) {
		ctx := c.Request.Context()
		gotMethod, _ = pprof.Label(ctx, telemetry.ProfilingLabelMethod)
		gotRoute, _ = pprof.Label(ctx, telemetry.ProfilingLabelRoute)
		gotController, _ = pprof.Label(ctx, telemetry.ProfilingLabelController)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections/ETSY", nil))

	assert.Equal(t, "GET", gotMethod)
	assert.Equal(t, "/api/v1/connections/:provider", gotRoute)
	assert.Equal(t, "connections", gotController)
}

func TestProfilingWithConfig_CarriesTenantLabel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	// The tenant label is only present when the tenant middleware ran first.
	router.Use(func(c *gin.Context) {
		c.Set(TenantIDKey, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		c.Next()
	})
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))

	var gotTenant string
	router.GET("/api/v1/stats", func(c *gin.Context) {
		gotTenant, _ = pprof.Label(c.Request.Context(), telemetry.ProfilingLabelTenantID)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", gotTenant)
}

func TestProfilingWithConfig_SkipsConfiguredPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))

	var labeled bool
	router.GET("/health", func(c *gin.Context) {
		_, labeled = pprof.Label(c.Request.Context(), telemetry.ProfilingLabelRoute)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, labeled)
}

func TestProfilingWithConfig_DisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ProfilingWithConfig(ProfilingConfig{Enabled: false}))

	var labeled bool
	router.GET("/api/v1/stats", func(c *gin.Context) {
		_, labeled = pprof.Label(c.Request.Context(), telemetry.ProfilingLabelRoute)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.False(t, labeled)
}

func TestControllerFromRoute(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"/api/v1/connections/:provider", "connections"},
		{"/api/v1/sync/jobs/:id", "sync"},
		{"/api/v1/stats", "stats"},
		{"/health", "health"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, controllerFromRoute(tt.route), "route %q", tt.route)
	}
}
