package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTraceRecorder(t *testing.T) *tracetest.SpanRecorder {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	return recorder
}

func spanAttributes(t *testing.T, recorder *tracetest.SpanRecorder) map[attribute.Key]attribute.Value {
	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[len(spans)-1].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestTracingWithConfig_EnrichesSpanWithRequestAndTenant(t *testing.T) {
	recorder := setupTraceRecorder(t)
	tenantID := uuid.New().String()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.Use(TracingWithConfig(TracingConfig{ServiceName: "channelsync-engine", Enabled: true}))
	router.Use(TenantMiddlewareWithConfig(TenantMiddlewareConfig{HeaderEnabled: true, Required: true}))
	router.Use(TracingAttributes())
	router.GET("/api/v1/connections/:provider", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections/SHOPIFY", nil)
	req.Header.Set("X-Request-ID", "req-trace-1")
	req.Header.Set(TenantHeaderKey, tenantID)
	router.ServeHTTP(w, req)

	attrs := spanAttributes(t, recorder)
	assert.Equal(t, "req-trace-1", attrs["request_id"].AsString())
	assert.Equal(t, tenantID, attrs["tenant_id"].AsString())
}

func TestTracingWithConfig_DisabledCreatesNoSpans(t *testing.T) {
	recorder := setupTraceRecorder(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{Enabled: false}))
	router.GET("/api/v1/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, recorder.Ended())
}

func TestSpanTenantID_RejectsNonUUIDHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	c.Request.Header.Set(TenantHeaderKey, "<script>alert(1)</script>")

	assert.Empty(t, spanTenantID(c))
}

func TestSpanTenantID_AcceptsUUIDHeaderBeforeTenantMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tenantID := uuid.New().String()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	c.Request.Header.Set(TenantHeaderKey, tenantID)

	assert.Equal(t, tenantID, spanTenantID(c))
}

func TestSpanRequestID_TruncatesOversizedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)

	long := make([]byte, maxRequestIDLength+64)
	for i := range long {
		long[i] = 'a'
	}
	c.Request.Header.Set("X-Request-ID", string(long))

	assert.Len(t, spanRequestID(c), maxRequestIDLength)
}
