// Package worktree wraps git worktree lifecycle management: source
// validation, branch/worktree creation, diff and modified-file inspection,
// merge and cleanup. It shells out to the git executable and never exposes
// raw shell access to callers.
package worktree

import "errors"

var (
	// ErrSourceNotFound is returned when the base path does not exist or is
	// not a directory.
	ErrSourceNotFound = errors.New("source path does not exist or is not a directory")

	// ErrNotGitRepo is returned when an operation requires an existing git
	// repository and the base path is not one.
	ErrNotGitRepo = errors.New("path is not a git repository")

	// ErrInvalidTaskName is returned when a task name sanitizes to empty.
	ErrInvalidTaskName = errors.New("task name is empty after sanitization")

	// ErrInvalidBaseBranch is returned when the requested base branch does
	// not exist in the repository.
	ErrInvalidBaseBranch = errors.New("base branch does not exist")

	// ErrGitCommandFailed wraps a non-zero exit from the git executable.
	ErrGitCommandFailed = errors.New("git command failed")

	// ErrWorktreePathConflict is returned when the computed worktree path
	// already exists as something other than a worktree.
	ErrWorktreePathConflict = errors.New("worktree path already exists and is not a worktree")
)
