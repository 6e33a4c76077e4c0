package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scholardoc/internal/config"
)

func TestCORSMiddlewareSetsHeaders(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.CORSOrigin = "https://example.org"
	s := NewServer(cfg)

	handler := s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	s := NewServer(config.DefaultConfig())
	called := false
	handler := s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodOptions, "/ocr", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called, "preflight must not reach the handler")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestRateLimitMiddlewareDisabledByDefault(t *testing.T) {
	s := NewServer(config.DefaultConfig())
	require.Nil(t, s.limiter)

	called := 0
	handler := s.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) { called++ })
	for i := 0; i < 10; i++ {
		handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ocr", nil))
	}
	assert.Equal(t, 10, called)
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.RequestsPerMinute = 1
	s := NewServer(cfg)
	require.NotNil(t, s.limiter)

	handler := s.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/ocr", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "minute", rec.Header().Get("X-RateLimit-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "20.0.0.2")
	assert.Equal(t, "20.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "30.0.0.3, 40.0.0.4")
	assert.Equal(t, "30.0.0.3", getClientIP(req))
}
