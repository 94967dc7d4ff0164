// Package vcstest provides an in-memory scripted VCS for exercising the
// sync protocol and worktree logic without a git installation. Defaults are
// driven by plain exported state; individual operations can be overridden
// with function fields, and failure sequences can be scripted by queueing
// errors.
package vcstest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spoolhq/spool/internal/vcs"
)

// Commit records one Commit call.
type Commit struct {
	Dir     string
	Message string
}

// Fake implements vcs.VCS backed by in-memory state.
type Fake struct {
	Root       string
	GitDirPath string // defaults to Root/.git

	Branches       map[string]bool   // branch → exists
	RemoteBranches map[string]bool   // "remote/branch" → exists
	BranchAt       map[string]string // dir → checked-out branch
	Remotes        map[string]bool
	Config         map[string]string

	// Ahead counts reported by Divergence, keyed by "branch...remote".
	LocalAhead  map[string]int
	RemoteAhead map[string]int

	Worktrees []vcs.Worktree
	Sparse    map[string][]string // worktree dir → sparse cone dirs

	// CreatedFrom records the start point passed to CreateBranch.
	CreatedFrom map[string]string

	Dirty   map[string]bool              // dir → has uncommitted changes
	Files   map[string][]byte            // "rev:path" → contents
	Stages  map[string]map[int][]byte    // conflicted path → stage → contents
	Revs    map[string]string            // rev expression → object ID
	Commits []Commit

	Conflicts []string // returned by ConflictedFiles while a merge is conflicted

	// Scripted failures, consumed one per call. A nil entry means success.
	FetchErrs []error
	MergeErrs []error
	PushErrs  []error

	FetchCalls int
	MergeCalls int
	PushCalls  int

	// Per-operation overrides. When set they replace the default behavior
	// entirely.
	FetchFunc func(ctx context.Context, dir, remote, branch string) error
	MergeFunc func(ctx context.Context, dir, ref string) error
	PushFunc  func(ctx context.Context, dir, remote, branch string) error
}

var _ vcs.VCS = (*Fake)(nil)

// New returns a Fake rooted at root with a main branch checked out and an
// origin remote configured.
func New(root string) *Fake {
	return &Fake{
		Root:           root,
		GitDirPath:     filepath.Join(root, ".git"),
		Branches:       map[string]bool{"main": true},
		RemoteBranches: map[string]bool{},
		BranchAt:       map[string]string{root: "main"},
		Remotes:        map[string]bool{"origin": true},
		Config:         map[string]string{},
		Sparse:         map[string][]string{},
		CreatedFrom:    map[string]string{},
		LocalAhead:     map[string]int{},
		RemoteAhead:    map[string]int{},
		Dirty:          map[string]bool{},
		Files:          map[string][]byte{},
		Stages:         map[string]map[int][]byte{},
		Revs:           map[string]string{},
	}
}

func (f *Fake) RepoRoot(ctx context.Context, dir string) (string, error) {
	if f.Root == "" {
		return "", vcs.ErrNotARepository
	}
	return f.Root, nil
}

func (f *Fake) GitDir(ctx context.Context, dir string) (string, error) {
	if f.GitDirPath != "" {
		return f.GitDirPath, nil
	}
	return filepath.Join(f.Root, ".git"), nil
}

func (f *Fake) CommonDir(ctx context.Context, dir string) (string, error) {
	return f.GitDir(ctx, dir)
}

func (f *Fake) CurrentBranch(ctx context.Context, dir string) (string, error) {
	if b, ok := f.BranchAt[dir]; ok {
		return b, nil
	}
	return "", commandError("symbolic-ref", 128, "fatal: ref HEAD is not a symbolic ref")
}

func (f *Fake) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	return f.Branches[branch], nil
}

func (f *Fake) RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error) {
	return f.RemoteBranches[remote+"/"+branch], nil
}

func (f *Fake) CreateBranch(ctx context.Context, dir, branch, startPoint string) error {
	if f.Branches[branch] {
		return commandError("branch", 128, fmt.Sprintf("fatal: a branch named '%s' already exists", branch))
	}
	f.Branches[branch] = true
	f.CreatedFrom[branch] = startPoint
	return nil
}

func (f *Fake) HasRemote(ctx context.Context, dir, remote string) (bool, error) {
	return f.Remotes[remote], nil
}

func (f *Fake) RevParse(ctx context.Context, dir, rev string) (string, error) {
	if id, ok := f.Revs[rev]; ok {
		return id, nil
	}
	return "", commandError("rev-parse", 128, fmt.Sprintf("fatal: unknown revision or path not in the working tree: %s", rev))
}

// WorktreeAdd registers the worktree and, when the surrounding directories
// are real, lays down the same on-disk shape git would: the worktree
// directory, its .git linkage file, and the administrative directory under
// the git dir. Filesystem failures are ignored so purely in-memory tests
// keep working.
func (f *Fake) WorktreeAdd(ctx context.Context, dir, path, branch string) error {
	for _, wt := range f.Worktrees {
		if wt.Path == path {
			return commandError("worktree add", 128, fmt.Sprintf("fatal: '%s' already exists", path))
		}
	}
	f.Worktrees = append(f.Worktrees, vcs.Worktree{Path: path, Branch: branch, Head: "0000000"})
	f.BranchAt[path] = branch

	adminDir := filepath.Join(f.GitDirPath, "worktrees", filepath.Base(path))
	if err := os.MkdirAll(adminDir, 0o755); err == nil {
		if err := os.MkdirAll(path, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(path, ".git"), []byte("gitdir: "+adminDir+"\n"), 0o644)
		}
	}
	return nil
}

func (f *Fake) WorktreeRemove(ctx context.Context, dir, path string, force bool) error {
	idx := slices.IndexFunc(f.Worktrees, func(wt vcs.Worktree) bool { return wt.Path == path })
	if idx < 0 {
		return commandError("worktree remove", 128, fmt.Sprintf("fatal: '%s' is not a working tree", path))
	}
	f.Worktrees = slices.Delete(f.Worktrees, idx, idx+1)
	delete(f.BranchAt, path)
	_ = os.RemoveAll(path)
	_ = os.RemoveAll(filepath.Join(f.GitDirPath, "worktrees", filepath.Base(path)))
	return nil
}

// WorktreePrune drops registrations whose directories no longer exist on
// disk, mirroring git's behavior.
func (f *Fake) WorktreePrune(ctx context.Context, dir string) error {
	kept := f.Worktrees[:0]
	for _, wt := range f.Worktrees {
		if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
			delete(f.BranchAt, wt.Path)
			_ = os.RemoveAll(filepath.Join(f.GitDirPath, "worktrees", filepath.Base(wt.Path)))
			continue
		}
		kept = append(kept, wt)
	}
	f.Worktrees = kept
	return nil
}

func (f *Fake) WorktreeList(ctx context.Context, dir string) ([]vcs.Worktree, error) {
	list := []vcs.Worktree{{Path: f.Root, Branch: f.BranchAt[f.Root], Head: "0000000"}}
	return append(list, f.Worktrees...), nil
}

func (f *Fake) SparseCheckoutSet(ctx context.Context, dir string, dirs ...string) error {
	f.Sparse[dir] = slices.Clone(dirs)
	return nil
}

func (f *Fake) SparseCheckoutList(ctx context.Context, dir string) ([]string, error) {
	return slices.Clone(f.Sparse[dir]), nil
}

func (f *Fake) Add(ctx context.Context, dir string, paths ...string) error { return nil }

func (f *Fake) Commit(ctx context.Context, dir, message string) error {
	f.Commits = append(f.Commits, Commit{Dir: dir, Message: message})
	f.Dirty[dir] = false
	return nil
}

func (f *Fake) HasChanges(ctx context.Context, dir, pathspec string) (bool, error) {
	return f.Dirty[dir], nil
}

func (f *Fake) ShowFile(ctx context.Context, dir, rev, path string) ([]byte, error) {
	if b, ok := f.Files[rev+":"+path]; ok {
		return b, nil
	}
	return nil, commandError("show", 128, fmt.Sprintf("fatal: path '%s' does not exist in '%s'", path, rev))
}

func (f *Fake) StageFile(ctx context.Context, dir string, stage int, path string) ([]byte, error) {
	if stages, ok := f.Stages[path]; ok {
		if b, ok := stages[stage]; ok {
			return b, nil
		}
	}
	return nil, commandError("show", 128, fmt.Sprintf("fatal: path '%s' is in the index, but not at stage %d", path, stage))
}

func (f *Fake) Fetch(ctx context.Context, dir, remote, branch string) error {
	f.FetchCalls++
	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, dir, remote, branch)
	}
	return popErr(&f.FetchErrs)
}

func (f *Fake) Merge(ctx context.Context, dir, ref string) error {
	f.MergeCalls++
	if f.MergeFunc != nil {
		return f.MergeFunc(ctx, dir, ref)
	}
	return popErr(&f.MergeErrs)
}

func (f *Fake) AbortMerge(ctx context.Context, dir string) error {
	f.Conflicts = nil
	return nil
}

func (f *Fake) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	return slices.Clone(f.Conflicts), nil
}

func (f *Fake) Push(ctx context.Context, dir, remote, branch string) error {
	f.PushCalls++
	if f.PushFunc != nil {
		return f.PushFunc(ctx, dir, remote, branch)
	}
	return popErr(&f.PushErrs)
}

func (f *Fake) Divergence(ctx context.Context, dir, branch, remote string) (int, int, error) {
	key := branch + "..." + remote
	return f.LocalAhead[key], f.RemoteAhead[key], nil
}

func (f *Fake) ConfigGet(ctx context.Context, dir, key string) (string, error) {
	return f.Config[key], nil
}

func (f *Fake) ConfigSet(ctx context.Context, dir, key, value string) error {
	f.Config[key] = value
	return nil
}

// ConflictError returns an error shaped like a real conflicted merge, for
// use in MergeErrs scripts.
func ConflictError(paths ...string) error {
	return commandError("merge", 1, "CONFLICT (content): Merge conflict in "+paths[0]+"\nAutomatic merge failed; fix conflicts and then commit the result.")
}

// PushRejectedError returns an error shaped like a non-fast-forward push
// rejection.
func PushRejectedError() error {
	return commandError("push", 1, "! [rejected]        spool-sync -> spool-sync (non-fast-forward)\nerror: failed to push some refs")
}

// NoSuchRemoteRefError returns an error shaped like a fetch of a branch the
// remote does not have.
func NoSuchRemoteRefError(branch string) error {
	return commandError("fetch", 128, "fatal: couldn't find remote ref "+branch)
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func commandError(op string, code int, output string) error {
	return &vcs.CommandError{
		Args:     []string{op},
		ExitCode: code,
		Output:   output,
		Err:      fmt.Errorf("exit status %d", code),
	}
}
