package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/lockfile"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/store"
	"github.com/spoolhq/spool/internal/syncbranch"
	"github.com/spoolhq/spool/internal/telemetry"
	"github.com/spoolhq/spool/internal/vcs"
	"github.com/spoolhq/spool/internal/worktree"
)

// mintLockTimeout bounds how long a command waits for another sp process to
// finish appending to the mapping table.
const mintLockTimeout = 10 * time.Second

// cmdEnv is the per-invocation command environment: the discovered project,
// the VCS backend, and the validated sync worktree with its identity table
// and issue store. Constructed once per command and passed explicitly;
// nothing here is global.
type cmdEnv struct {
	proj     *project.Project
	git      vcs.VCS
	branch   string
	manager  *worktree.Manager
	worktree string
	table    *identity.Table
	issues   *store.Store
}

// openEnv discovers the project and validates the sync worktree, failing
// fast with the contract guidance when either is unusable. Commands that
// depend on the staging area never repair it inline.
func openEnv(ctx context.Context) (*cmdEnv, error) {
	proj, err := project.Open(".")
	if err != nil {
		return nil, err
	}

	g := telemetry.WrapVCS(vcs.NewGit())
	branch, err := syncbranch.Resolve(ctx, g, proj.Root, proj.Config.SyncBranch)
	if err != nil {
		return nil, err
	}

	manager := worktree.NewManager(g, proj.Root, branch)
	wt, err := manager.Check(ctx)
	if err != nil {
		return nil, err
	}

	table, err := identity.LoadTable(project.IDMapPathIn(wt), proj.Config.IssuePrefix)
	if err != nil {
		return nil, err
	}

	return &cmdEnv{
		proj:     proj,
		git:      g,
		branch:   branch,
		manager:  manager,
		worktree: wt,
		table:    table,
		issues:   store.New(project.SpoolDirIn(wt)),
	}, nil
}

// resolve maps any accepted identifier form to an internal ID or exits with
// the identity error contract.
func (e *cmdEnv) resolve(input string) string {
	internalID, err := e.table.Resolve(input)
	if err != nil {
		Fail(err)
	}
	return internalID
}

// lockMapping takes the exclusive mapping lock for operations that mint or
// mark entries. Released by the caller.
func (e *cmdEnv) lockMapping(operation string) *lockfile.Lock {
	lock, err := lockfile.AcquireTimeout(e.proj.LockPath("idmap"), operation, mintLockTimeout)
	if err != nil {
		Fail(fmt.Errorf("failed to lock mapping table: %w", err))
	}
	return lock
}

// commit stages .spool in the sync worktree and commits when anything
// changed. Mutating commands call this before reporting success so every
// change is durable on the sync branch.
func (e *cmdEnv) commit(ctx context.Context, message string) error {
	changed, err := e.git.HasChanges(ctx, e.worktree, project.DirName)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := e.git.Add(ctx, e.worktree, project.DirName); err != nil {
		return err
	}
	return e.git.Commit(ctx, e.worktree, message)
}

// identityTablePath returns the mapping table path inside the sync worktree.
func identityTablePath(e *cmdEnv) string {
	return project.IDMapPathIn(e.worktree)
}

// flushTable appends pending mapping entries inside the worktree. Callers
// commit afterwards; a flushed-but-uncommitted table is still durable in the
// worktree and picked up by the next commit.
func (e *cmdEnv) flushTable() error {
	return e.table.Flush(project.IDMapPathIn(e.worktree))
}
