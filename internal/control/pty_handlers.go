package control

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forkline/core/internal/pty"
)

type listSessionsResponse struct {
	Success  bool          `json:"success"`
	Sessions []pty.Summary `json:"sessions"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, listSessionsResponse{Success: true, Sessions: s.supervisor.ListSessions()})
}

type ptyCreateRequest struct {
	TaskID string            `json:"taskId"`
	Cwd    string            `json:"cwd"`
	Env    map[string]string `json:"env"`
	Cols   int               `json:"cols"`
	Rows   int               `json:"rows"`
}

func (s *Server) handlePTYCreate(c *gin.Context) {
	var req ptyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid taskId")
		return
	}
	if !validAbsPath(req.Cwd) {
		abortJSON(c, http.StatusBadRequest, "cwd must be an absolute path")
		return
	}

	result, err := s.supervisor.Create(req.TaskID, req.Cwd, req.Env, req.Cols, req.Rows)
	if err != nil {
		switch {
		case errors.Is(err, pty.ErrAlreadyExists):
			abortJSON(c, http.StatusConflict, "session already exists")
		case errors.Is(err, pty.ErrLimitExceeded):
			abortJSON(c, http.StatusTooManyRequests, "session limit exceeded")
		default:
			abortJSON(c, http.StatusInternalServerError, "failed to create session")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": result.Created, "running": result.Running})
}

type ptyTaskRequest struct {
	TaskID       string `json:"taskId"`
	SubscriberID string `json:"subscriberId"`
}

func (s *Server) handlePTYAttach(c *gin.Context) {
	var req ptyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := s.supervisor.Attach(req.TaskID, req.SubscriberID)
	if err != nil {
		abortJSON(c, http.StatusNotFound, "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"outputBuffer": string(result.OutputBuffer),
		"startOffset":  result.StartOffset,
		"endOffset":    result.EndOffset,
		"modeState":    result.ModeState,
	})
}

func (s *Server) handlePTYDetach(c *gin.Context) {
	var req ptyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	_ = s.supervisor.Detach(req.TaskID, req.SubscriberID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ptyWriteRequest struct {
	TaskID string `json:"taskId"`
	Data   string `json:"data"`
}

func (s *Server) handlePTYWrite(c *gin.Context) {
	var req ptyWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	if len(req.Data) > s.cfg.MaxPTYWriteBytes {
		abortJSON(c, http.StatusRequestEntityTooLarge, "write exceeds per-write cap")
		return
	}

	err := s.supervisor.Write(req.TaskID, []byte(req.Data))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, pty.ErrNotFound):
		abortJSON(c, http.StatusNotFound, "session not found")
	case errors.Is(err, pty.ErrNotRunning):
		abortJSON(c, http.StatusConflict, "session is not running")
	case errors.Is(err, pty.ErrPayloadTooLarge):
		abortJSON(c, http.StatusRequestEntityTooLarge, "write exceeds per-write cap")
	default:
		abortJSON(c, http.StatusInternalServerError, "write failed")
	}
}

type ptyResizeRequest struct {
	TaskID string `json:"taskId"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
}

func (s *Server) handlePTYResize(c *gin.Context) {
	var req ptyResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	err := s.supervisor.Resize(req.TaskID, req.Cols, req.Rows)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, pty.ErrNotFound):
		abortJSON(c, http.StatusNotFound, "session not found")
	case errors.Is(err, pty.ErrNotRunning):
		abortJSON(c, http.StatusConflict, "session is not running")
	default:
		abortJSON(c, http.StatusInternalServerError, "resize failed")
	}
}

func (s *Server) handlePTYDestroy(c *gin.Context) {
	var req ptyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validTaskID(req.TaskID) {
		abortJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	_ = s.supervisor.Destroy(req.TaskID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
