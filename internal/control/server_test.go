package control

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkline/core/internal/bus"
	"github.com/forkline/core/internal/logger"
	"github.com/forkline/core/internal/pty"
	"github.com/forkline/core/internal/worktree"
)

const testToken = "test-token-value"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	b := bus.NewMemoryEventBus(log)
	t.Cleanup(b.Close)

	sup := pty.NewSupervisor(b, log, 4, 64_000, 0)
	wt := worktree.NewManager(log)

	return NewServer(Config{
		Token:              testToken,
		MaxBodyBytes:       2_000_000,
		MaxPTYWriteBytes:   64_000,
		MaxSSEClients:      4,
		RateLimitPerMinute: 1200,
	}, b, sup, wt, log)
}

func loopbackRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:55001"
	return req
}

func TestServer_RejectsNonLoopback(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/pty/sessions", nil)
	req.RemoteAddr = "203.0.113.5:55001"
	req.Header.Set("Authorization", "Bearer "+testToken)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_RejectsOriginHeader(t *testing.T) {
	s := newTestServer(t)
	req := loopbackRequest(http.MethodGet, "/v1/pty/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Origin", "https://evil.example")

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	req := loopbackRequest(http.MethodGet, "/v1/pty/sessions", nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_AllowsAuthedLoopbackNoOrigin(t *testing.T) {
	s := newTestServer(t)
	req := loopbackRequest(http.MethodGet, "/v1/pty/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":[]`)
}

func TestServer_HealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	req := loopbackRequest(http.MethodGet, "/v1/health", nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RejectsOptions(t *testing.T) {
	s := newTestServer(t)
	req := loopbackRequest(http.MethodOptions, "/v1/pty/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
