package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbucket/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter(t *testing.T) {
	metrics := monitoring.NewMetrics()
	limiter := NewIPRateLimiter(0.001, 2, nil, metrics)

	r := gin.New()
	r.POST("/record", limiter.Middleware("record"), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/record", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 不同 IP 互不影响
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/record", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitBlocks.WithLabelValues("record")))
	assert.Equal(t, 2, limiter.Len())
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, nil, nil)
	limiter.Allow("192.0.2.1")
	limiter.evictIdle(time.Now().Add(time.Hour))
	assert.Zero(t, limiter.Len())
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/upload", BodySizeLimit(8), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			assert.True(t, IsBodyTooLarge(err))
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("声明长度超限", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("未声明长度", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789"))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("未超限", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("small")))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "8", rec.Header().Get("X-Max-Body-Size"))
	})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Body.String())
	assert.Equal(t, rec.Body.String(), rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	r.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", rec.Body.String())
}

func TestOwnerToken(t *testing.T) {
	r := gin.New()
	r.Use(OwnerToken())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetOwnerToken(c)) })

	tests := []struct {
		name   string
		setup  func(*http.Request)
		expect string
	}{
		{"请求头", func(r *http.Request) { r.Header.Set(OwnerTokenHeader, "h") }, "h"},
		{"Bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer b") }, "b"},
		{"Cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: OwnerTokenCookie, Value: "c"}) }, "c"},
		{"缺失", func(*http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.expect, rec.Body.String())
		})
	}
}

func TestRecoveryHandler(t *testing.T) {
	metrics := monitoring.NewMetrics()
	r := gin.New()
	r.Use(RecoveryHandler(nil, metrics))
	r.GET("/", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
}

func TestHTTPMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	r := gin.New()
	r.Use(HTTPMetrics(metrics))
	r.GET("/buckets/:token", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buckets/abc", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/buckets/:token", "200")))
}
