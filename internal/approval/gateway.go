// Package approval implements the Approval Gateway: a second loopback HTTP
// server accepting agent-originated callbacks. Synchronous callbacks
// (todos, message, usage) are forwarded to the operator surface and
// answered immediately; the approval-gated "merge" callback is queued as a
// persistent ApprovalRequest and either polled or awaited inline via
// ?wait=1.
package approval

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forkline/core/internal/logger"
)

const maxBodyBytes = 1_000_000

// allowedActions is the fixed route allowlist, with the legacy "metrics"
// alias folded into "usage".
var allowedActions = map[string]string{
	"merge":   "merge",
	"todos":   "todos",
	"message": "message",
	"usage":   "usage",
	"metrics": "usage",
}

// Config holds the subset of daemon configuration the Approval Gateway needs.
type Config struct {
	Token              string
	RateLimitPerMinute int
	WaitMax            time.Duration
}

// Gateway is the Approval Gateway's HTTP server.
type Gateway struct {
	cfg      Config
	router   *gin.Engine
	logger   *logger.Logger
	store    *Store
	notifier Notifier
	wait     *waiter
}

// NewGateway builds the gateway's router with its security-perimeter
// middleware chain and routes wired.
func NewGateway(cfg Config, store *Store, notifier Notifier, log *logger.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)

	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	if cfg.WaitMax <= 0 {
		cfg.WaitMax = 10 * time.Minute
	}

	g := &Gateway{
		cfg:      cfg,
		router:   gin.New(),
		logger:   log.WithFields(zap.String("component", "approval-gateway")),
		store:    store,
		notifier: notifier,
		wait:     newWaiter(),
	}

	rl := newRateLimiter(cfg.RateLimitPerMinute)
	g.router.Use(
		loopbackOnly(),
		rejectCrossOrigin(),
		rejectOptions(),
		rateLimited(rl),
		requireToken(cfg.Token),
		bodyCap(maxBodyBytes),
	)
	g.registerRoutes()
	return g
}

// Router exposes the underlying handler for net/http.Server to serve.
func (g *Gateway) Router() http.Handler {
	return g.router
}

func (g *Gateway) registerRoutes() {
	g.router.POST("/api/task/:taskId/:action", g.handleTaskCallback)
	g.router.GET("/api/approval/:requestId", g.handleGetApproval)
	g.router.POST("/api/approval/:requestId/resolve", g.handleResolveApproval)
}

func (g *Gateway) handleTaskCallback(c *gin.Context) {
	taskID := c.Param("taskId")
	rawAction := c.Param("action")

	action, ok := allowedActions[rawAction]
	if !ok {
		abortJSON(c, http.StatusNotFound, "unknown action")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortJSON(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	if action != string(ActionMerge) {
		g.notifier.NotifySynchronous(taskID, action, body)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	req, err := g.store.Create(c.Request.Context(), taskID, ActionMerge, string(body))
	if err != nil {
		g.logger.Error("failed to persist approval request", zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, "failed to create approval request")
		return
	}
	g.notifier.NotifyApprovalRequested(req)

	if c.Query("wait") == "1" {
		g.waitForDecision(c, req)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"status":    string(req.Status),
		"requestId": req.RequestID,
		"pollUrl":   "/api/approval/" + req.RequestID,
	})
}

func (g *Gateway) waitForDecision(c *gin.Context, req *Request) {
	ch := g.wait.Register(req.RequestID)
	defer g.wait.Forget(req.RequestID, ch)

	select {
	case resolved := <-ch:
		writeApprovalResponse(c, http.StatusOK, resolved)
	case <-time.After(g.cfg.WaitMax):
		abortJSON(c, http.StatusRequestTimeout, "approval wait timed out")
	case <-c.Request.Context().Done():
	}
}

func (g *Gateway) handleGetApproval(c *gin.Context) {
	req, err := g.store.Get(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		abortJSON(c, http.StatusNotFound, "approval request not found")
		return
	}
	writeApprovalResponse(c, http.StatusOK, req)
}

type resolveRequest struct {
	Approved  bool   `json:"approved"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decidedBy"`
}

// handleResolveApproval is the internal operator endpoint that records a
// human decision, unblocking any `?wait=1` responder. It is auth-gated
// identically to every other AG route; there is no separate credential tier
// because this daemon has exactly one operator.
func (g *Gateway) handleResolveApproval(c *gin.Context) {
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortJSON(c, http.StatusBadRequest, "invalid request body")
		return
	}

	status := StatusRejected
	if body.Approved {
		status = StatusApproved
	}

	req, err := g.store.Resolve(c.Request.Context(), c.Param("requestId"), status, body.Decision, body.DecidedBy)
	switch {
	case err == nil:
		g.wait.Signal(req)
		writeApprovalResponse(c, http.StatusOK, req)
	case err == ErrAlreadyTerminal:
		// Terminal already: subsequent resolve calls are no-ops that return
		// the stored decision.
		writeApprovalResponse(c, http.StatusOK, req)
	case err == ErrNotFound:
		abortJSON(c, http.StatusNotFound, "approval request not found")
	default:
		g.logger.Error("failed to resolve approval request", zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, "failed to resolve approval request")
	}
}

func writeApprovalResponse(c *gin.Context, status int, req *Request) {
	var payload json.RawMessage
	if req.Payload != "" {
		payload = json.RawMessage(req.Payload)
	}
	c.JSON(status, gin.H{
		"success":   true,
		"requestId": req.RequestID,
		"taskId":    req.TaskID,
		"action":    req.Action,
		"status":    req.Status,
		"decision":  req.Decision,
		"decidedBy": req.DecidedBy,
		"payload":   payload,
		"createdAt": req.CreatedAt,
		"updatedAt": req.UpdatedAt,
	})
}
