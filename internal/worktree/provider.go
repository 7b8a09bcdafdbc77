package worktree

import "github.com/forkline/core/internal/logger"

// Provide constructs the worktree manager. It takes no database handle:
// worktree state lives entirely in git, not in a persisted record table
// (see DESIGN.md).
func Provide(log *logger.Logger) *Manager {
	return NewManager(log)
}
