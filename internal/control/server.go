package control

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forkline/core/internal/bus"
	"github.com/forkline/core/internal/httpmw"
	"github.com/forkline/core/internal/logger"
	"github.com/forkline/core/internal/pty"
	"github.com/forkline/core/internal/worktree"
)

// Version is reported by GET /v1/version.
const Version = "0.1.0"

// Config holds the subset of daemon configuration the Control Daemon needs.
type Config struct {
	Token              string
	MaxBodyBytes       int64
	MaxPTYWriteBytes   int
	MaxSSEClients      int
	RateLimitPerMinute int
}

// Server is the loopback-only HTTP+SSE Control Daemon: the single surface
// through which an operator (or a thin GUI consumer) drives the PTY
// supervisor and worktree manager, with a security-perimeter middleware
// chain in front of every route.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *logger.Logger

	bus        bus.Bus
	supervisor *pty.Supervisor
	worktrees  *worktree.Manager

	sseClients int64
	startedAt  time.Time
}

// NewServer builds the Control Daemon's router with its full middleware
// chain already wired in a fixed pipeline order: loopback check, origin
// rejection, method rejection, rate limiting, auth, request logging, body
// cap, then dispatch.
func NewServer(cfg Config, b bus.Bus, supervisor *pty.Supervisor, wtMgr *worktree.Manager, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		router:     gin.New(),
		logger:     log.WithFields(zap.String("component", "control-daemon")),
		bus:        b,
		supervisor: supervisor,
		worktrees:  wtMgr,
		startedAt:  time.Now().UTC(),
	}

	rl := newRateLimiter(cfg.RateLimitPerMinute)

	s.router.Use(
		loopbackOnly(),
		rejectCrossOrigin(),
		rejectOptions(),
		rateLimited(rl),
		requireToken(cfg.Token),
		httpmw.RequestLogger(log, "control-daemon"),
		bodyCap(cfg.MaxBodyBytes),
	)

	s.registerRoutes()
	return s
}

// Router exposes the underlying handler for net/http.Server to serve.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/version", s.handleVersion)
		v1.GET("/events", s.handleEvents)

		v1.GET("/pty/sessions", s.handleListSessions)
		v1.POST("/pty/create", s.handlePTYCreate)
		v1.POST("/pty/attach", s.handlePTYAttach)
		v1.POST("/pty/detach", s.handlePTYDetach)
		v1.POST("/pty/write", s.handlePTYWrite)
		v1.POST("/pty/resize", s.handlePTYResize)
		v1.POST("/pty/destroy", s.handlePTYDestroy)

		git := v1.Group("/git")
		{
			git.POST("/validate", s.handleGitValidate)
			git.POST("/worktree/create", s.handleWorktreeCreate)
			git.POST("/worktree/list", s.handleWorktreeList)
			git.POST("/branches/list", s.handleBranchesList)
			git.POST("/worktree/remove", s.handleWorktreeRemove)
			git.POST("/worktree/merge", s.handleWorktreeMerge)
			git.POST("/diff", s.handleGitDiff)
			git.POST("/modified-files", s.handleGitModifiedFiles)
		}
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	UptimeMS  int64  `json:"uptimeMs"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		UptimeMS:  time.Since(s.startedAt).Milliseconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, versionResponse{Version: Version})
}
