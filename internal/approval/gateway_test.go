package approval

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkline/core/internal/logger"
)

const testToken = "gateway-test-token"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	store := newTestStore(t)
	return NewGateway(Config{Token: testToken, RateLimitPerMinute: 1200}, store, NewLogNotifier(log), log)
}

func authedLoopbackPost(path string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:44100"
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGateway_SynchronousActionReturnsOK(t *testing.T) {
	g := newTestGateway(t)
	req := authedLoopbackPost("/api/task/t1/usage", []byte(`{"tokens":100}`))

	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_UnknownActionIs404(t *testing.T) {
	g := newTestGateway(t)
	req := authedLoopbackPost("/api/task/t1/delete-everything", []byte(`{}`))

	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_MergeLifecycle(t *testing.T) {
	g := newTestGateway(t)

	createReq := authedLoopbackPost("/api/task/t1/merge", []byte(`{"branch":"task-1"}`))
	createRec := httptest.NewRecorder()
	g.Router().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusAccepted, createRec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created["status"])
	requestID, _ := created["requestId"].(string)
	require.NotEmpty(t, requestID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/approval/"+requestID, nil)
	getReq.RemoteAddr = "127.0.0.1:44100"
	getReq.Header.Set("Authorization", "Bearer "+testToken)
	getRec := httptest.NewRecorder()
	g.Router().ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), `"status":"pending"`)

	resolveReq := authedLoopbackPost("/api/approval/"+requestID+"/resolve", []byte(`{"approved":true,"decision":"ship it","decidedBy":"operator"}`))
	resolveRec := httptest.NewRecorder()
	g.Router().ServeHTTP(resolveRec, resolveReq)
	assert.Equal(t, http.StatusOK, resolveRec.Code)
	assert.Contains(t, resolveRec.Body.String(), `"status":"approved"`)

	secondReq := httptest.NewRequest(http.MethodGet, "/api/approval/"+requestID, nil)
	secondReq.RemoteAddr = "127.0.0.1:44100"
	secondReq.Header.Set("Authorization", "Bearer "+testToken)
	secondRec := httptest.NewRecorder()
	g.Router().ServeHTTP(secondRec, secondReq)
	assert.Equal(t, http.StatusOK, secondRec.Code)
	assert.Contains(t, secondRec.Body.String(), `"requestId":"`+requestID+`"`)
}

func TestGateway_RejectsMissingToken(t *testing.T) {
	g := newTestGateway(t)
	req := httptest.NewRequest(http.MethodPost, "/api/task/t1/usage", bytes.NewReader([]byte(`{}`)))
	req.RemoteAddr = "127.0.0.1:44100"

	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
