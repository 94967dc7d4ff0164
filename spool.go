// Package spool provides a minimal public API for tooling built on top of
// the sp CLI.
//
// Most integrations should shell out to sp, whose output is the stable
// surface. This package exports only the essential types and functions for
// Go programs that want to read a repository's issue data directly.
package spool

import (
	"context"

	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/store"
	"github.com/spoolhq/spool/internal/syncbranch"
	"github.com/spoolhq/spool/internal/types"
	"github.com/spoolhq/spool/internal/vcs"
	"github.com/spoolhq/spool/internal/worktree"
)

// Core types for working with issues
type (
	Issue   = types.Issue
	Comment = types.Comment
	Status  = types.Status
)

// Status constants
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusClosed     = types.StatusClosed
)

// Repo is read-only programmatic access to one repository's issue data as
// staged on the sync branch. It does not repair the sync worktree; a broken
// one surfaces as an error pointing at `sp doctor --fix`.
type Repo struct {
	issues *store.Store
	table  *identity.Table
}

// Open opens the issue data of the repository containing dir. The repository
// must be initialized (`sp init`) and its sync worktree healthy.
func Open(ctx context.Context, dir string) (*Repo, error) {
	proj, err := project.Open(dir)
	if err != nil {
		return nil, err
	}
	g := vcs.NewGit()
	branch, err := syncbranch.Resolve(ctx, g, proj.Root, proj.Config.SyncBranch)
	if err != nil {
		return nil, err
	}
	wt, err := worktree.NewManager(g, proj.Root, branch).Check(ctx)
	if err != nil {
		return nil, err
	}
	table, err := identity.LoadTable(project.IDMapPathIn(wt), proj.Config.IssuePrefix)
	if err != nil {
		return nil, err
	}
	return &Repo{
		issues: store.New(project.SpoolDirIn(wt)),
		table:  table,
	}, nil
}

// List returns every live issue. Tombstones are excluded.
func (r *Repo) List() ([]*Issue, error) {
	issues, err := r.issues.List()
	if err != nil {
		return nil, err
	}
	live := issues[:0]
	for _, issue := range issues {
		if !issue.IsTombstone() {
			live = append(live, issue)
		}
	}
	return live, nil
}

// Get loads one issue by display ID, internal ID, or unambiguous prefix.
func (r *Repo) Get(id string) (*Issue, error) {
	internalID, err := r.table.Resolve(id)
	if err != nil {
		return nil, err
	}
	return r.issues.Load(internalID)
}

// Display returns the short display ID for an internal ID, or "" when the
// mapping is unknown.
func (r *Repo) Display(internalID string) string {
	return r.table.Display(internalID)
}
