package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	r := newRouter()
	r.Use(NewRequestLogger().Handler())

	var traceID string
	r.GET("/ping", func(c *gin.Context) {
		traceID = c.GetString("trace_id")
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, traceID, "Каждый запрос получает trace_id")
}

func TestPrometheusMiddlewareCountsRequests(t *testing.T) {
	r := newRouter()
	mw := NewPrometheusMiddleware("mw_test")
	r.Use(mw.Handler())
	mw.RegisterMetricsEndpoint(r)

	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/broken"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "mw_test_http_request_duration_seconds")
	assert.Contains(t, body, "mw_test_http_request_errors_total")
	assert.Contains(t, body, `path="/broken"`)
}

func TestPrometheusMiddlewareReuseSafe(t *testing.T) {
	// Повторное создание с тем же именем сервиса не паникует
	assert.NotPanics(t, func() {
		NewPrometheusMiddleware("mw_test")
		NewPrometheusMiddleware("mw_test")
	})
}
