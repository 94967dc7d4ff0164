// Package vcs provides a narrow abstraction over the version control
// operations spool needs: fetch, merge, push, commit plumbing, and worktree
// management. The interface covers exactly what the sync protocol and the
// worktree manager call, so tests can substitute a scripted fake instead of
// shelling out to a real git installation.
package vcs

import (
	"context"
	"errors"
)

// ErrNotARepository is returned when the directory is not inside a git
// repository.
var ErrNotARepository = errors.New("not a git repository")

// Worktree describes one entry from the repository's worktree list.
type Worktree struct {
	Path   string
	Head   string
	Branch string // empty when detached
}

// VCS defines the version control operations used by spool. Every method
// takes the directory to operate in; backends must not depend on the process
// working directory. Implementations return *CommandError for subprocess
// failures so callers can inspect exit codes and raw output.
type VCS interface {
	// Repository inspection

	// RepoRoot returns the absolute path of the working tree root containing dir.
	RepoRoot(ctx context.Context, dir string) (string, error)

	// GitDir returns the absolute path of the repository's git directory.
	// For a linked worktree this is the per-worktree directory, not the
	// common one.
	GitDir(ctx context.Context, dir string) (string, error)

	// CommonDir returns the git directory shared by all worktrees of the
	// repository. For a regular checkout this equals GitDir; for a bare
	// repository it is the repository itself.
	CommonDir(ctx context.Context, dir string) (string, error)

	// CurrentBranch returns the branch checked out in dir. Detached HEAD is
	// an error.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, dir, branch string) (bool, error)

	// RemoteBranchExists reports whether the remote-tracking ref
	// refs/remotes/<remote>/<branch> exists.
	RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error)

	// CreateBranch creates branch at startPoint without checking it out.
	CreateBranch(ctx context.Context, dir, branch, startPoint string) error

	// HasRemote reports whether the named remote is configured.
	HasRemote(ctx context.Context, dir, remote string) (bool, error)

	// RevParse resolves a revision expression to an object ID.
	RevParse(ctx context.Context, dir, rev string) (string, error)

	// Worktree management

	// WorktreeAdd checks out branch in a new linked worktree at path.
	WorktreeAdd(ctx context.Context, dir, path, branch string) error

	// WorktreeRemove removes the worktree at path. With force set it
	// discards local modifications in the worktree.
	WorktreeRemove(ctx context.Context, dir, path string, force bool) error

	// WorktreePrune drops stale administrative entries for worktrees whose
	// directories no longer exist.
	WorktreePrune(ctx context.Context, dir string) error

	// WorktreeList returns all registered worktrees, main one first.
	WorktreeList(ctx context.Context, dir string) ([]Worktree, error)

	// SparseCheckoutSet restricts the worktree at dir to the given cone
	// directories.
	SparseCheckoutSet(ctx context.Context, dir string, dirs ...string) error

	// SparseCheckoutList returns the cone directories of a sparse worktree.
	SparseCheckoutList(ctx context.Context, dir string) ([]string, error)

	// Staging and history

	// Add stages the given pathspecs.
	Add(ctx context.Context, dir string, paths ...string) error

	// Commit records staged changes with the given message.
	Commit(ctx context.Context, dir, message string) error

	// HasChanges reports whether the working tree has uncommitted changes
	// under pathspec (staged or not). An empty pathspec means the whole tree.
	HasChanges(ctx context.Context, dir, pathspec string) (bool, error)

	// ShowFile returns the contents of path at the given revision
	// (e.g. "HEAD", "origin/spool-sync").
	ShowFile(ctx context.Context, dir, rev, path string) ([]byte, error)

	// StageFile returns the contents of path at the given index stage during
	// a conflicted merge: 1 is the common ancestor, 2 ours, 3 theirs.
	StageFile(ctx context.Context, dir string, stage int, path string) ([]byte, error)

	// Synchronization

	// Fetch downloads branch from remote without integrating it.
	Fetch(ctx context.Context, dir, remote, branch string) error

	// Merge integrates ref into the current branch. A conflicted merge
	// returns an error and leaves the index with unmerged entries.
	Merge(ctx context.Context, dir, ref string) error

	// AbortMerge restores the pre-merge state after a conflicted merge.
	AbortMerge(ctx context.Context, dir string) error

	// ConflictedFiles lists paths with unmerged index entries.
	ConflictedFiles(ctx context.Context, dir string) ([]string, error)

	// Push publishes branch to remote.
	Push(ctx context.Context, dir, remote, branch string) error

	// Divergence reports how many commits branch and remote/branch each
	// have that the other lacks.
	Divergence(ctx context.Context, dir, branch, remote string) (localAhead, remoteAhead int, err error)

	// Configuration

	// ConfigGet returns the value for key, or "" when unset.
	ConfigGet(ctx context.Context, dir, key string) (string, error)

	// ConfigSet writes key=value into the repository configuration.
	ConfigSet(ctx context.Context, dir, key, value string) error
}
