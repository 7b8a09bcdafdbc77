package control

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forkline/core/internal/worktree"
)

type gitValidateRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleGitValidate(c *gin.Context) {
	var req gitValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.Path) {
		abortJSON(c, http.StatusBadRequest, "path must be an absolute path")
		return
	}
	info, err := s.worktrees.ValidateSource(req.Path)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, "validation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "valid": info.Valid, "isRepo": info.IsRepo, "type": info.Type})
}

type worktreeCreateRequest struct {
	BasePath        string            `json:"basePath"`
	TaskName        string            `json:"taskName"`
	BaseBranch      string            `json:"baseBranch"`
	CloneMode       string            `json:"cloneMode"`
	BootstrapPaths  []string          `json:"bootstrapPaths"`
	PackageStoreEnv map[string]string `json:"packageStoreEnv"`
}

func (s *Server) handleWorktreeCreate(c *gin.Context) {
	var req worktreeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.BasePath) {
		abortJSON(c, http.StatusBadRequest, "basePath must be an absolute path")
		return
	}

	opts := worktree.CreateOptions{
		CloneMode:       worktree.CloneMode(req.CloneMode),
		BootstrapPaths:  req.BootstrapPaths,
		PackageStoreEnv: req.PackageStoreEnv,
	}
	result, err := s.worktrees.CreateWorktree(c.Request.Context(), req.BasePath, req.TaskName, req.BaseBranch, opts)
	if err != nil {
		abortJSON(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             result.Success,
		"worktreePath":        result.WorktreePath,
		"branch":              result.Branch,
		"dependencyBootstrap": result.DependencyBootstrap,
	})
}

type basePathRequest struct {
	BasePath string `json:"basePath"`
}

func (s *Server) handleWorktreeList(c *gin.Context) {
	var req basePathRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.BasePath) {
		abortJSON(c, http.StatusBadRequest, "basePath must be an absolute path")
		return
	}
	worktrees, err := s.worktrees.ListWorktrees(c.Request.Context(), req.BasePath)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, "failed to list worktrees")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "worktrees": worktrees})
}

func (s *Server) handleBranchesList(c *gin.Context) {
	var req basePathRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.BasePath) {
		abortJSON(c, http.StatusBadRequest, "basePath must be an absolute path")
		return
	}
	branches, err := s.worktrees.ListBranches(c.Request.Context(), req.BasePath)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, "failed to list branches")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "branches": branches})
}

type worktreeRemoveRequest struct {
	BasePath     string `json:"basePath"`
	TaskName     string `json:"taskName"`
	WorktreePath string `json:"worktreePath"`
	Force        bool   `json:"force"`
}

func (s *Server) handleWorktreeRemove(c *gin.Context) {
	var req worktreeRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.BasePath) || !validAbsPath(req.WorktreePath) {
		abortJSON(c, http.StatusBadRequest, "basePath and worktreePath must be absolute paths")
		return
	}
	if err := s.worktrees.RemoveWorktree(c.Request.Context(), req.BasePath, req.TaskName, req.WorktreePath, req.Force); err != nil {
		abortJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type worktreeMergeRequest struct {
	BasePath     string `json:"basePath"`
	TaskName     string `json:"taskName"`
	WorktreePath string `json:"worktreePath"`
}

func (s *Server) handleWorktreeMerge(c *gin.Context) {
	var req worktreeMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.BasePath) || !validAbsPath(req.WorktreePath) {
		abortJSON(c, http.StatusBadRequest, "basePath and worktreePath must be absolute paths")
		return
	}
	if err := s.worktrees.MergeWorktree(c.Request.Context(), req.BasePath, req.TaskName, req.WorktreePath); err != nil {
		abortJSON(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type gitDiffRequest struct {
	WorktreePath string `json:"worktreePath"`
	SyntaxAware  bool   `json:"syntaxAware"`
}

func (s *Server) handleGitDiff(c *gin.Context) {
	var req gitDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.WorktreePath) {
		abortJSON(c, http.StatusBadRequest, "worktreePath must be an absolute path")
		return
	}
	diff, err := s.worktrees.GetDiff(c.Request.Context(), req.WorktreePath, req.SyntaxAware)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, "failed to compute diff")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "diff": diff})
}

type modifiedFilesRequest struct {
	WorktreePath string `json:"worktreePath"`
}

func (s *Server) handleGitModifiedFiles(c *gin.Context) {
	var req modifiedFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validAbsPath(req.WorktreePath) {
		abortJSON(c, http.StatusBadRequest, "worktreePath must be an absolute path")
		return
	}
	files, err := s.worktrees.GetModifiedFiles(c.Request.Context(), req.WorktreePath)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, "failed to list modified files")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}
