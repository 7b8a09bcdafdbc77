package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forkline/core/internal/logger"
)

// Manager performs git worktree operations. It holds no persistent state of
// its own: git itself is the source of truth for what worktrees and
// branches exist, so it does not cache worktree records or back them with a
// database (see DESIGN.md).
type Manager struct {
	logger     *logger.Logger
	repoLocks  map[string]*repoLockEntry
	repoLockMu sync.Mutex
}

type repoLockEntry struct {
	mu       *sync.Mutex
	refCount int
}

// NewManager creates a new worktree manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		logger:    log.WithFields(zap.String("component", "worktree-manager")),
		repoLocks: make(map[string]*repoLockEntry),
	}
}

func (m *Manager) getRepoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	if entry, ok := m.repoLocks[repoPath]; ok {
		entry.refCount++
		return entry.mu
	}
	entry := &repoLockEntry{mu: &sync.Mutex{}, refCount: 1}
	m.repoLocks[repoPath] = entry
	return entry.mu
}

func (m *Manager) releaseRepoLock(repoPath string) {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	entry, ok := m.repoLocks[repoPath]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(m.repoLocks, repoPath)
	}
}

// SourceInfo is the result of ValidateSource.
type SourceInfo struct {
	Valid bool   `json:"valid"`
	IsRepo bool  `json:"isRepo"`
	Type  string `json:"type"`
}

// ValidateSource checks that path exists and is a directory, and probes for
// a git repository at that path. Pure validation: no mutation.
func (m *Manager) ValidateSource(path string) (*SourceInfo, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return &SourceInfo{Valid: false}, nil
	}
	isRepo := m.isGitRepo(path)
	typ := "plain-directory"
	if isRepo {
		typ = "git-repository"
	}
	return &SourceInfo{Valid: true, IsRepo: isRepo, Type: typ}, nil
}

// CloneMode selects how an optional dependency bootstrap populates a new
// worktree from the base checkout.
type CloneMode string

const (
	CloneModeCopyOnWrite CloneMode = "copy_on_write"
	CloneModeNone        CloneMode = ""
)

// CreateOptions configures an optional dependency bootstrap performed after
// the worktree and branch are created.
type CreateOptions struct {
	CloneMode       CloneMode
	BootstrapPaths  []string          // paths relative to basePath to copy into the worktree (e.g. "node_modules")
	PackageStoreEnv map[string]string // extra env vars written into a .env.worktree file for a shared package store
}

// DependencyBootstrapResult reports what the optional bootstrap step did.
type DependencyBootstrapResult struct {
	Mode      string   `json:"mode"`
	Copied    []string `json:"copied"`
	Skipped   []string `json:"skipped,omitempty"`
}

// CreateResult is the result of CreateWorktree.
type CreateResult struct {
	Success             bool                       `json:"success"`
	WorktreePath        string                     `json:"worktreePath"`
	Branch              string                     `json:"branch"`
	DependencyBootstrap *DependencyBootstrapResult `json:"dependencyBootstrap,omitempty"`
}

// worktreesDirFor computes <parent(basePath)>/<basename(basePath)>-worktrees.
func worktreesDirFor(basePath string) string {
	return filepath.Join(filepath.Dir(basePath), filepath.Base(basePath)+"-worktrees")
}

// CreateWorktree creates (or attaches to) a worktree for taskName. If
// basePath is not yet a git repository, one is initialized with an initial
// commit. If a branch named taskName already exists, a new worktree is
// attached to it; otherwise a new branch is created from baseBranch (or the
// current HEAD) and a worktree added in one step.
func (m *Manager) CreateWorktree(ctx context.Context, basePath, taskName, baseBranch string, opts CreateOptions) (*CreateResult, error) {
	info, err := os.Stat(basePath)
	if err != nil || !info.IsDir() {
		return nil, ErrSourceNotFound
	}

	sanitized := sanitizeTaskName(taskName)
	if sanitized == "" {
		return nil, ErrInvalidTaskName
	}

	lock := m.getRepoLock(basePath)
	lock.Lock()
	defer func() {
		lock.Unlock()
		m.releaseRepoLock(basePath)
	}()

	if !m.isGitRepo(basePath) {
		if err := m.initRepoWithInitialCommit(ctx, basePath); err != nil {
			return nil, err
		}
	}

	worktreesDir := worktreesDirFor(basePath)
	if err := os.MkdirAll(worktreesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	worktreePath := filepath.Join(worktreesDir, sanitized)
	if st, err := os.Stat(worktreePath); err == nil && st.IsDir() && !m.isWorktreeDir(worktreePath) {
		return nil, ErrWorktreePathConflict
	}

	if m.branchExists(basePath, sanitized) {
		if err := m.gitWorktreeAddExisting(ctx, basePath, worktreePath, sanitized); err != nil {
			return nil, err
		}
	} else {
		baseRef := baseBranch
		if baseRef == "" {
			baseRef = m.currentBranch(basePath)
		}
		if !m.branchExists(basePath, baseRef) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBaseBranch, baseRef)
		}
		if err := m.gitWorktreeAddNewBranch(ctx, basePath, worktreePath, sanitized, baseRef); err != nil {
			return nil, err
		}
	}

	result := &CreateResult{Success: true, WorktreePath: worktreePath, Branch: sanitized}

	if opts.CloneMode == CloneModeCopyOnWrite && len(opts.BootstrapPaths) > 0 {
		result.DependencyBootstrap = m.bootstrapDependencies(basePath, worktreePath, opts)
	}

	m.logger.Info("created worktree",
		zap.String("base_path", basePath),
		zap.String("worktree_path", worktreePath),
		zap.String("branch", sanitized))

	return result, nil
}

func (m *Manager) initRepoWithInitialCommit(ctx context.Context, basePath string) error {
	init := m.newNonInteractiveGitCmd(ctx, basePath, "init")
	if out, err := init.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}

	add := m.newNonInteractiveGitCmd(ctx, basePath, "add", "-A")
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}

	commit := m.newNonInteractiveGitCmd(ctx, basePath, "commit", "--allow-empty", "-m", "Initial commit")
	if out, err := commit.CombinedOutput(); err != nil {
		msg := strings.ToLower(string(out))
		if strings.Contains(msg, "nothing to commit") {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}
	return nil
}

func (m *Manager) gitWorktreeAddExisting(ctx context.Context, repoPath, worktreePath, branch string) error {
	cmd := m.newNonInteractiveGitCmd(ctx, repoPath, "worktree", "add", worktreePath, branch)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}
	return nil
}

func (m *Manager) gitWorktreeAddNewBranch(ctx context.Context, repoPath, worktreePath, branch, baseRef string) error {
	cmd := m.newNonInteractiveGitCmd(ctx, repoPath, "worktree", "add", "-b", branch, worktreePath, baseRef)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}
	return nil
}

// bootstrapDependencies copies each requested path from basePath into
// worktreePath via cloneTree: each file is hardlinked, falling back to a
// byte copy where linking fails. No reflink is attempted.
func (m *Manager) bootstrapDependencies(basePath, worktreePath string, opts CreateOptions) *DependencyBootstrapResult {
	result := &DependencyBootstrapResult{Mode: string(CloneModeCopyOnWrite)}
	for _, rel := range opts.BootstrapPaths {
		src := filepath.Join(basePath, rel)
		dst := filepath.Join(worktreePath, rel)
		if _, err := os.Stat(src); err != nil {
			result.Skipped = append(result.Skipped, rel)
			continue
		}
		if err := cloneTree(src, dst); err != nil {
			m.logger.Warn("dependency bootstrap failed for path",
				zap.String("path", rel), zap.Error(err))
			result.Skipped = append(result.Skipped, rel)
			continue
		}
		result.Copied = append(result.Copied, rel)
	}
	if len(opts.PackageStoreEnv) > 0 {
		m.writePackageStoreEnv(worktreePath, opts.PackageStoreEnv)
	}
	return result
}

func (m *Manager) writePackageStoreEnv(worktreePath string, env map[string]string) {
	var sb strings.Builder
	for k, v := range env {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	path := filepath.Join(worktreePath, ".env.worktree")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		m.logger.Warn("failed to write package store env file", zap.Error(err))
	}
}

// WorktreeInfo describes one entry from `git worktree list`.
type WorktreeInfo struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Head   string `json:"head"`
}

// ListWorktrees returns every worktree attached to the repository at
// basePath, read directly from git.
func (m *Manager) ListWorktrees(ctx context.Context, basePath string) ([]WorktreeInfo, error) {
	if !m.isGitRepo(basePath) {
		return nil, ErrNotGitRepo
	}
	cmd := m.newNonInteractiveGitCmd(ctx, basePath, "worktree", "list", "--porcelain")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, err)
	}
	return parseWorktreeList(string(out)), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var infos []WorktreeInfo
	var cur WorktreeInfo
	flush := func() {
		if cur.Path != "" {
			infos = append(infos, cur)
		}
		cur = WorktreeInfo{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return infos
}

// ListBranches returns every local branch name in the repository.
func (m *Manager) ListBranches(ctx context.Context, basePath string) ([]string, error) {
	if !m.isGitRepo(basePath) {
		return nil, ErrNotGitRepo
	}
	cmd := m.newNonInteractiveGitCmd(ctx, basePath, "branch", "--list", "--format=%(refname:short)")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, err)
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// RemoveWorktree removes the worktree directory (force if requested) and
// deletes the branch named taskName. Idempotent: removing an
// already-absent worktree or branch is not an error.
func (m *Manager) RemoveWorktree(ctx context.Context, basePath, taskName, worktreePath string, force bool) error {
	sanitized := sanitizeTaskName(taskName)

	if m.isGitRepo(basePath) {
		args := []string{"worktree", "remove"}
		if force {
			args = append(args, "--force")
		}
		args = append(args, worktreePath)
		cmd := m.newNonInteractiveGitCmd(ctx, basePath, args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			msg := strings.ToLower(string(out))
			if !strings.Contains(msg, "is not a working tree") && !strings.Contains(msg, "no such") {
				if err := m.forceRemoveDir(worktreePath); err != nil {
					return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
				}
			}
		}
		prune := m.newNonInteractiveGitCmd(ctx, basePath, "worktree", "prune")
		_ = prune.Run()

		if sanitized != "" && m.branchExists(basePath, sanitized) {
			branchArgs := []string{"branch", "-D", sanitized}
			if out, err := m.newNonInteractiveGitCmd(ctx, basePath, branchArgs...).CombinedOutput(); err != nil {
				m.logger.Warn("failed to delete branch after worktree removal",
					zap.String("branch", sanitized), zap.String("output", string(out)))
			}
		}
		return nil
	}

	// basePath isn't even a repo anymore: treat the directory itself as the
	// only thing left to clean up.
	return m.forceRemoveDir(worktreePath)
}

// MergeWorktree commits any uncommitted changes in the worktree, merges its
// branch into whatever branch is currently checked out in basePath, then
// removes the worktree and deletes the branch.
func (m *Manager) MergeWorktree(ctx context.Context, basePath, taskName, worktreePath string) error {
	sanitized := sanitizeTaskName(taskName)
	if sanitized == "" {
		return ErrInvalidTaskName
	}

	dirty, err := m.hasUncommittedChanges(ctx, worktreePath)
	if err != nil {
		return err
	}
	if dirty {
		add := m.newNonInteractiveGitCmd(ctx, worktreePath, "add", "-A")
		if out, err := add.CombinedOutput(); err != nil {
			return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
		}
		commit := m.newNonInteractiveGitCmd(ctx, worktreePath, "commit", "-m", "Automated commit before merge")
		if out, err := commit.CombinedOutput(); err != nil {
			return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
		}
	}

	lock := m.getRepoLock(basePath)
	lock.Lock()
	defer func() {
		lock.Unlock()
		m.releaseRepoLock(basePath)
	}()

	merge := m.newNonInteractiveGitCmd(ctx, basePath, "merge", "--no-edit", sanitized)
	if out, err := merge.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}

	return m.RemoveWorktree(ctx, basePath, taskName, worktreePath, true)
}

func (m *Manager) hasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	cmd := m.newNonInteractiveGitCmd(ctx, worktreePath, "status", "--porcelain")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrGitCommandFailed, err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// GetDiff stages everything in worktreePath (so untracked files are
// included), captures the diff against HEAD, then unstages to restore the
// prior index state. When syntaxAware is requested and an external
// structural diff tool is available, its output is used instead; any
// failure to run it falls back to the textual diff silently.
func (m *Manager) GetDiff(ctx context.Context, worktreePath string, syntaxAware bool) (string, error) {
	if st, err := os.Stat(worktreePath); err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, worktreePath)
	}

	// Record the current index as a tree so it can be put back exactly;
	// if that fails (e.g. unmerged entries), the index is reset to HEAD.
	savedIndex := "HEAD"
	if out, err := m.newNonInteractiveGitCmd(ctx, worktreePath, "write-tree").Output(); err == nil {
		savedIndex = strings.TrimSpace(string(out))
	}

	add := m.newNonInteractiveGitCmd(ctx, worktreePath, "add", "-A")
	if out, err := add.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, string(out))
	}
	defer func() {
		restore := m.newNonInteractiveGitCmd(ctx, worktreePath, "read-tree", savedIndex)
		_ = restore.Run()
	}()

	if syntaxAware {
		if diff, err := m.syntaxAwareDiff(ctx, worktreePath); err == nil {
			return diff, nil
		}
	}

	diff := m.newNonInteractiveGitCmd(ctx, worktreePath, "diff", "--cached")
	out, err := diff.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, err)
	}
	return string(out), nil
}

// syntaxAwareDiff shells out to difftastic when present on PATH, running it
// as git's external diff over the staged changes to produce a structural
// diff. Any error (missing binary, non-zero exit on a genuine failure) is
// returned so the caller can fall back silently.
func (m *Manager) syntaxAwareDiff(ctx context.Context, worktreePath string) (string, error) {
	if _, err := exec.LookPath("difft"); err != nil {
		return "", err
	}
	cmd := m.newNonInteractiveGitCmd(ctx, worktreePath,
		"-c", "diff.external=difft --color never", "diff", "--cached", "--ext-diff")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GetModifiedFiles returns the paths reported by `git status`, or an empty
// list if the worktree is absent.
func (m *Manager) GetModifiedFiles(ctx context.Context, worktreePath string) ([]string, error) {
	if st, err := os.Stat(worktreePath); err != nil || !st.IsDir() {
		return []string{}, nil
	}
	cmd := m.newNonInteractiveGitCmd(ctx, worktreePath, "status", "--porcelain")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		// Porcelain v1: "XY path" or "XY orig -> path" for renames.
		path := strings.TrimSpace(line[2:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		files = append(files, path)
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

func (m *Manager) isGitRepo(path string) bool {
	gitDir := filepath.Join(path, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

func (m *Manager) isWorktreeDir(path string) bool {
	return m.isGitRepo(path)
}

func (m *Manager) branchExists(repoPath, branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (m *Manager) currentBranch(repoPath string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (m *Manager) newNonInteractiveGitCmd(ctx context.Context, repoPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=echo",
		"SSH_ASKPASS=/bin/false",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)
	cmd.WaitDelay = 500 * time.Millisecond
	return cmd
}

// forceRemoveDir removes a directory, retrying on transient failures (a
// worktree directory can briefly stay busy right after git releases it).
func (m *Manager) forceRemoveDir(dir string) error {
	const maxRetries = 3
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := os.RemoveAll(dir)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return lastErr
}

// cloneTree copies src into dst, preferring a hardlink of each file (cheap,
// copy-on-write-like on filesystems that share inodes) and falling back to
// a full byte copy when linking fails (e.g. crossing a filesystem boundary).
func cloneTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkDst, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkDst, target)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.Link(path, target); err == nil {
			return nil
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}
