// Package worktree manages the hidden git worktree that keeps the sync
// branch checked out. The worktree lives under the repository's git
// directory so it never shows up in the user's working tree, and it is
// sparse so only .spool/ is materialized.
//
// The manager classifies the worktree into exactly one of three states.
// Ordinary commands fail fast on anything but Healthy; only the explicit
// repair path (sp doctor --fix, sp init) mutates worktree state.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spoolhq/spool/internal/vcs"
)

// worktreesDirName is the directory under the common git dir that holds
// spool's worktrees, one per sync branch.
const worktreesDirName = "spool-worktrees"

// State describes the health of the sync worktree.
type State int

const (
	// StateHealthy means the worktree exists, is linked to this repository,
	// has the sync branch checked out, and its sparse profile still selects
	// .spool/.
	StateHealthy State = iota

	// StateMissing means the worktree directory does not exist. No other
	// condition maps to Missing.
	StateMissing

	// StateCorrupted covers everything else: a squatting file or directory,
	// a broken .git linkage, a stale registration, the wrong branch, or a
	// sparse profile that dropped .spool/.
	StateCorrupted
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateMissing:
		return "missing"
	case StateCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// StateError reports an unusable sync worktree.
type StateError struct {
	State  State
	Path   string
	Detail string
}

func (e *StateError) Error() string {
	if e.State == StateMissing {
		return fmt.Sprintf("sync worktree missing: %s", e.Path)
	}
	return fmt.Sprintf("sync worktree corrupted: %s", e.Detail)
}

// Manager resolves, validates, and repairs the sync worktree for one
// repository.
type Manager struct {
	git      vcs.VCS
	repoRoot string
	branch   string

	// Remote is consulted when the sync branch has to be created: a remote
	// counterpart is preferred over HEAD so fresh clones pick up shared
	// state. Defaults to origin.
	Remote string
}

// NewManager returns a Manager for the repository rooted at repoRoot and
// the given sync branch.
func NewManager(g vcs.VCS, repoRoot, branch string) *Manager {
	return &Manager{git: g, repoRoot: repoRoot, branch: branch, Remote: "origin"}
}

// Branch returns the sync branch the manager is bound to.
func (m *Manager) Branch() string { return m.branch }

// Resolve returns the deterministic worktree path for the sync branch:
// <common git dir>/spool-worktrees/<branch>. Using the common dir keeps the
// path correct when the repo root is itself a linked worktree or a bare
// repository.
func (m *Manager) Resolve(ctx context.Context) (string, error) {
	commonDir, err := m.git.CommonDir(ctx, m.repoRoot)
	if err != nil {
		return "", fmt.Errorf("failed to locate git directory: %w", err)
	}
	return filepath.Join(commonDir, worktreesDirName, m.branch), nil
}

// Validate classifies the worktree at path. Every call returns exactly one
// state: Missing iff the directory itself does not exist, Corrupted with a
// human-readable detail when any linkage, branch, or sparse profile check
// fails, Healthy otherwise. Validate never mutates anything.
func (m *Manager) Validate(ctx context.Context, path string) (State, string) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StateMissing, ""
		}
		return StateCorrupted, fmt.Sprintf("cannot stat %s: %v", path, err)
	}
	if !fi.IsDir() {
		return StateCorrupted, fmt.Sprintf("%s is not a directory", path)
	}

	if detail := m.validateLinkage(ctx, path); detail != "" {
		return StateCorrupted, detail
	}

	branch, err := m.git.CurrentBranch(ctx, path)
	if err != nil {
		return StateCorrupted, fmt.Sprintf("cannot determine checked-out branch: %v", err)
	}
	if branch != m.branch {
		return StateCorrupted, fmt.Sprintf("worktree has branch %s checked out, want %s", branch, m.branch)
	}

	if detail := m.validateSparseProfile(ctx, path); detail != "" {
		return StateCorrupted, detail
	}

	return StateHealthy, ""
}

// validateLinkage checks the .git linkage file that ties a worktree back to
// its repository. Returns a corruption detail, or "" when intact.
func (m *Manager) validateLinkage(ctx context.Context, path string) string {
	dotGit := filepath.Join(path, ".git")
	fi, err := os.Lstat(dotGit)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("%s has no .git linkage file", path)
		}
		return fmt.Sprintf("cannot stat %s: %v", dotGit, err)
	}
	if fi.IsDir() {
		// A .git directory means a full repository is squatting on the path.
		return fmt.Sprintf("%s is a repository, not a linked worktree", path)
	}

	// #nosec G304 - path is derived from the repository's git directory
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return fmt.Sprintf("cannot read %s: %v", dotGit, err)
	}
	content := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(content, "gitdir: ")
	if !ok || target == "" {
		return fmt.Sprintf("malformed .git linkage file in %s", path)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(path, target)
	}
	target = filepath.Clean(target)

	if _, err := os.Stat(target); err != nil {
		return fmt.Sprintf("stale worktree registration: %s does not exist", target)
	}

	commonDir, err := m.git.CommonDir(ctx, m.repoRoot)
	if err != nil {
		return fmt.Sprintf("failed to locate git directory: %v", err)
	}
	rel, err := filepath.Rel(commonDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Sprintf("worktree belongs to a different repository (%s)", target)
	}
	return ""
}

// validateSparseProfile checks that a sparse worktree still selects .spool/.
// A non-sparse worktree trivially selects everything and passes.
func (m *Manager) validateSparseProfile(ctx context.Context, path string) string {
	enabled, err := m.git.ConfigGet(ctx, path, "core.sparseCheckout")
	if err != nil {
		return fmt.Sprintf("cannot read sparse checkout config: %v", err)
	}
	if enabled != "true" {
		return ""
	}

	dirs, err := m.git.SparseCheckoutList(ctx, path)
	if err != nil {
		return fmt.Sprintf("cannot read sparse checkout profile: %v", err)
	}
	for _, d := range dirs {
		if strings.Trim(d, "/") == ".spool" {
			return ""
		}
	}
	return "sparse checkout profile no longer selects .spool"
}

// Check resolves and validates the worktree, converting an unhealthy state
// into a *StateError. Commands that need the worktree call this before doing
// anything else.
func (m *Manager) Check(ctx context.Context) (string, error) {
	path, err := m.Resolve(ctx)
	if err != nil {
		return "", err
	}
	state, detail := m.Validate(ctx, path)
	if state != StateHealthy {
		return path, &StateError{State: state, Path: path, Detail: detail}
	}
	return path, nil
}

// Repair brings the sync worktree to a healthy state and returns its path.
// It is idempotent: a healthy worktree is returned untouched, anything else
// is torn down and recreated. Repair creates the sync branch when it does
// not exist yet, preferring the remote branch over HEAD.
func (m *Manager) Repair(ctx context.Context) (string, error) {
	path, err := m.Resolve(ctx)
	if err != nil {
		return "", err
	}

	state, _ := m.Validate(ctx, path)
	if state == StateHealthy {
		return path, nil
	}

	if state == StateCorrupted {
		// Prefer a registered removal so git drops its administrative entry
		// too; fall back to deleting whatever is squatting on the path.
		if err := m.git.WorktreeRemove(ctx, m.repoRoot, path, true); err != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return "", fmt.Errorf("failed to remove corrupted worktree: %w", rmErr)
			}
		}
	}

	// Covers directories deleted behind git's back: the registration
	// survives the directory and blocks re-adding.
	if err := m.git.WorktreePrune(ctx, m.repoRoot); err != nil {
		return "", fmt.Errorf("failed to prune worktrees: %w", err)
	}

	if err := m.ensureBranch(ctx); err != nil {
		return "", err
	}

	if err := m.git.WorktreeAdd(ctx, m.repoRoot, path, m.branch); err != nil {
		return "", fmt.Errorf("failed to add sync worktree: %w", err)
	}

	if err := m.git.SparseCheckoutSet(ctx, path, ".spool"); err != nil {
		return "", fmt.Errorf("failed to configure sparse checkout: %w", err)
	}

	return path, nil
}

func (m *Manager) ensureBranch(ctx context.Context) error {
	exists, err := m.git.BranchExists(ctx, m.repoRoot, m.branch)
	if err != nil {
		return fmt.Errorf("failed to check branch %s: %w", m.branch, err)
	}
	if exists {
		return nil
	}

	start := "HEAD"
	if hasRemote, err := m.git.RemoteBranchExists(ctx, m.repoRoot, m.Remote, m.branch); err == nil && hasRemote {
		start = m.Remote + "/" + m.branch
	}

	if err := m.git.CreateBranch(ctx, m.repoRoot, m.branch, start); err != nil {
		return fmt.Errorf("failed to create sync branch %s: %w", m.branch, err)
	}
	return nil
}
