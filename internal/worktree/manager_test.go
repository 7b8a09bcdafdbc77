package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkline/core/internal/logger"
)

func newTestManager(t *testing.T) *Manager {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewManager(log)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v failed: %s", args, out)
}

func TestSanitizeTaskName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Fix Login Bug", "fix-login-bug"},
		{"  leading-and-trailing--  ", "leading-and-trailing"},
		{"already.valid_name-1", "already.valid_name-1"},
		{"!!!", ""},
		{"Déjà Vu", "d-j-vu"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeTaskName(c.in), "input=%q", c.in)
	}
}

func TestManager_ValidateSource(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	info, err := m.ValidateSource(dir)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.False(t, info.IsRepo)

	runGit(t, dir, "init")
	info, err = m.ValidateSource(dir)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.True(t, info.IsRepo)

	info, err = m.ValidateSource(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, info.Valid)
}

func TestManager_CreateWorktree_InitializesRepo(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	result, err := m.CreateWorktree(ctx, dir, "task-1", "", CreateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "task-1", result.Branch)

	expectedPath := filepath.Join(filepath.Dir(dir), filepath.Base(dir)+"-worktrees", "task-1")
	assert.Equal(t, expectedPath, result.WorktreePath)
	assert.DirExists(t, result.WorktreePath)

	files, err := m.GetModifiedFiles(ctx, result.WorktreePath)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestManager_FullRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	result, err := m.CreateWorktree(ctx, dir, "task-1", "", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(result.WorktreePath, "new.txt"), []byte("hello"), 0644))

	modified, err := m.GetModifiedFiles(ctx, result.WorktreePath)
	require.NoError(t, err)
	assert.Contains(t, modified, "new.txt")

	diff, err := m.GetDiff(ctx, result.WorktreePath, false)
	require.NoError(t, err)
	assert.Contains(t, diff, "new.txt")

	require.NoError(t, m.MergeWorktree(ctx, dir, "task-1", result.WorktreePath))

	assert.NoDirExists(t, result.WorktreePath)
	assert.FileExists(t, filepath.Join(dir, "new.txt"))

	branches, err := m.ListBranches(ctx, dir)
	require.NoError(t, err)
	assert.NotContains(t, branches, "task-1")
}

func TestManager_RemoveWorktree_Idempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	result, err := m.CreateWorktree(ctx, dir, "task-2", "", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.RemoveWorktree(ctx, dir, "task-2", result.WorktreePath, true))
	// Removing again should not error even though nothing remains.
	require.NoError(t, m.RemoveWorktree(ctx, dir, "task-2", result.WorktreePath, true))
}

func TestManager_ListWorktrees(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := m.CreateWorktree(ctx, dir, "task-3", "", CreateOptions{})
	require.NoError(t, err)

	worktrees, err := m.ListWorktrees(ctx, dir)
	require.NoError(t, err)
	require.Len(t, worktrees, 2) // base checkout + the new worktree

	var found bool
	for _, wt := range worktrees {
		if wt.Branch == "task-3" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_CreateWorktree_InvalidTaskName(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := m.CreateWorktree(ctx, dir, "!!!", "", CreateOptions{})
	assert.ErrorIs(t, err, ErrInvalidTaskName)
}

func TestManager_CreateWorktree_AttachesToExistingBranch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	first, err := m.CreateWorktree(ctx, dir, "task-4", "", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, m.RemoveWorktree(ctx, dir, "task-4", first.WorktreePath, true))

	// Recreate the branch manually, then confirm CreateWorktree attaches
	// to it instead of failing because the branch already exists.
	runGit(t, dir, "branch", "task-4")
	second, err := m.CreateWorktree(ctx, dir, "task-4", "", CreateOptions{})
	require.NoError(t, err)
	assert.DirExists(t, second.WorktreePath)
}
